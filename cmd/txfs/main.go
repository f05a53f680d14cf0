// txfs is an interactive console over an in-memory transactional
// file store.
//
// Usage:
//
//	txfs [flags]
//
// Flags:
//
//	-c, --config     Explicit config file (HuJSON)
//	    --history    History file (overrides config)
//	-v, --verbose    Debug logging to stderr
//
// Commands (in REPL): see 'help'. State is process-only; exiting
// discards everything.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/txfs/internal/console"
	"github.com/calvinalkan/txfs/pkg/txfs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		historyPath string
		verbose     bool
	)

	flags := flag.NewFlagSet("txfs", flag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "explicit config file")
	flags.StringVar(&historyPath, "history", "", "history file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cannot get working directory: %w", err)
	}

	cfg, _, err := console.LoadConfig(workDir, configPath, os.Environ())
	if err != nil {
		return err
	}

	if historyPath != "" {
		cfg.HistoryFile = historyPath
	}

	if cfg.HistoryFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.HistoryFile = filepath.Join(home, ".txfs_history")
		}
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	sys := txfs.NewSystem(txfs.WithLogger(logger))
	c := console.New(sys, cfg, os.Stdout, os.Stderr)

	return repl(sys, c, cfg)
}

func repl(sys *txfs.System, c *console.Console, cfg console.Config) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(input string) []string {
		var out []string

		for _, cmd := range console.Commands() {
			if strings.HasPrefix(cmd, input) {
				out = append(out, cmd)
			}
		}

		return out
	})

	if cfg.HistoryFile != "" {
		if f, err := os.Open(cfg.HistoryFile); err == nil {
			_, _ = line.ReadHistory(f)
			_ = f.Close()
		}
	}

	defer saveHistory(line, cfg.HistoryFile)

	fmt.Println("txfs console - type 'help' for commands")

	for {
		prompt := cfg.Prompt
		if prompt == "" {
			prompt = sys.Pwd() + "> "
		}

		input, err := line.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}

			if err == io.EOF {
				fmt.Println()

				return nil
			}

			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if !c.Exec(input) {
			return nil
		}
	}
}

// saveHistory persists the REPL history atomically so a crash mid-
// write cannot truncate it.
func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}

	var buf bytes.Buffer
	if _, err := line.WriteHistory(&buf); err != nil {
		return
	}

	_ = atomic.WriteFile(path, &buf)
}
