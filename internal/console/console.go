// Package console implements the interactive command surface over a
// [txfs.System]: one command per line, an optional --txn flag to run
// an operation inside a named transaction.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/calvinalkan/txfs/pkg/txfs"
)

// Console dispatches command lines against a System. It tracks which
// files the client has opened so close can report sensibly; the open
// flag itself lives on the file entry.
type Console struct {
	sys    *txfs.System
	cfg    Config
	out    io.Writer
	errOut io.Writer
	open   map[string]bool
}

// New returns a console over sys writing results to out and errors to
// errOut.
func New(sys *txfs.System, cfg Config, out, errOut io.Writer) *Console {
	return &Console{
		sys:    sys,
		cfg:    cfg,
		out:    out,
		errOut: errOut,
		open:   make(map[string]bool),
	}
}

// Commands returns every command name, for REPL completion.
func Commands() []string {
	return []string{
		"mkdir", "touch", "open", "close", "read", "write",
		"rm", "rmdir", "mv", "ls", "cd", "pwd", "find",
		"txn_start", "txn_commit", "txn_abort", "txn_status",
		"help", "exit",
	}
}

// Run feeds lines from r through [Console.Exec] until EOF or exit.
// Returns 0, or 1 when reading input failed.
func (c *Console) Run(r io.Reader) int {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if !c.Exec(scanner.Text()) {
			return 0
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintln(c.errOut, "error:", err)

		return 1
	}

	return 0
}

// Exec runs a single command line. Returns false once the console
// should exit.
func (c *Console) Exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	cmd, args := fields[0], fields[1:]

	if cmd == "exit" {
		return false
	}

	if err := c.dispatch(cmd, args); err != nil {
		fmt.Fprintln(c.errOut, "error:", err)
	}

	return true
}

var (
	errUsage          = errors.New("usage")
	errUnknownCommand = errors.New("unknown command")
)

func usage(s string) error {
	return fmt.Errorf("%w: %s", errUsage, s)
}

func (c *Console) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		c.printHelp()

		return nil
	case "pwd":
		fmt.Fprintln(c.out, c.sys.Pwd())

		return nil
	case "mkdir":
		if len(args) != 1 {
			return usage("mkdir <path>")
		}

		return c.sys.Mkdir(args[0], "")
	case "touch":
		if len(args) != 1 {
			return usage("touch <path>")
		}

		return c.sys.Touch(args[0], "")
	case "open":
		return c.cmdOpen(args)
	case "close":
		return c.cmdClose(args)
	case "read":
		return c.cmdRead(args)
	case "write":
		return c.cmdWrite(args)
	case "rm", "rmdir":
		if len(args) != 1 {
			return usage(cmd + " <path>")
		}

		return c.sys.Remove(args[0], "")
	case "mv":
		if len(args) != 2 {
			return usage("mv <src> <dst>")
		}

		return c.sys.Move(args[0], args[1], "")
	case "ls":
		return c.cmdLs(args)
	case "cd":
		if len(args) != 1 {
			return usage("cd <path>")
		}

		return c.sys.ChangeDir(args[0], "")
	case "find":
		if len(args) != 1 {
			return usage("find <name>")
		}

		for _, p := range c.sys.Find(args[0]) {
			fmt.Fprintln(c.out, p)
		}

		return nil
	case "txn_start":
		return c.cmdTxnStart(args)
	case "txn_commit":
		if len(args) != 1 {
			return usage("txn_commit <id>")
		}

		return c.sys.Commit(args[0])
	case "txn_abort":
		if len(args) != 1 {
			return usage("txn_abort <id>")
		}

		return c.sys.Abort(args[0])
	case "txn_status":
		return c.cmdTxnStatus(args)
	default:
		return fmt.Errorf("%w: %s (try 'help')", errUnknownCommand, cmd)
	}
}

// splitTxnFlag extracts a "--txn <id>" pair from any position in args.
func splitTxnFlag(args []string) (rest []string, txnID string, err error) {
	for i := 0; i < len(args); i++ {
		if args[i] != "--txn" {
			rest = append(rest, args[i])

			continue
		}

		if i+1 >= len(args) {
			return nil, "", usage("--txn requires a transaction id")
		}

		txnID = args[i+1]
		i++
	}

	return rest, txnID, nil
}

func (c *Console) cmdOpen(args []string) error {
	if len(args) != 1 {
		return usage("open <path>")
	}

	if err := c.sys.Open(args[0]); err != nil {
		return err
	}

	c.open[args[0]] = true
	fmt.Fprintln(c.out, "Opened:", args[0])

	return nil
}

func (c *Console) cmdClose(args []string) error {
	rest, _, err := splitTxnFlag(args)
	if err != nil {
		return err
	}

	if len(rest) != 1 {
		return usage("close <path> [--txn <id>]")
	}

	if !c.open[rest[0]] {
		return fmt.Errorf("file not open: %s", rest[0])
	}

	delete(c.open, rest[0])
	fmt.Fprintln(c.out, "Closed:", rest[0])

	return nil
}

func (c *Console) cmdRead(args []string) error {
	rest, txnID, err := splitTxnFlag(args)
	if err != nil {
		return err
	}

	if len(rest) != 1 {
		return usage("read <path> [--txn <id>]")
	}

	content, err := c.sys.Read(rest[0], txnID)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, content)

	return nil
}

func (c *Console) cmdWrite(args []string) error {
	rest, txnID, err := splitTxnFlag(args)
	if err != nil {
		return err
	}

	if len(rest) < 2 {
		return usage("write <path> <content> [--txn <id>]")
	}

	content := strings.Join(rest[1:], " ")

	return c.sys.Write(rest[0], content, txnID)
}

func (c *Console) cmdLs(args []string) error {
	rest, txnID, err := splitTxnFlag(args)
	if err != nil {
		return err
	}

	path := ""
	if len(rest) > 0 {
		path = rest[0]
	}

	names, err := c.sys.List(path, txnID)
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Fprintln(c.out, name)
	}

	return nil
}

func (c *Console) cmdTxnStart(args []string) error {
	token := c.cfg.DefaultIsolation
	if token == "" {
		token = DefaultConfig().DefaultIsolation
	}

	if len(args) > 0 {
		token = args[0]
	}

	level, err := txfs.ParseIsolation(token)
	if err != nil {
		return err
	}

	id, err := c.sys.Begin(level)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, "Transaction started:", id)

	return nil
}

func (c *Console) cmdTxnStatus(args []string) error {
	if len(args) != 1 {
		return usage("txn_status <id>")
	}

	st, err := c.sys.Status(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%s %s %s\n", st.ID, st.Isolation, st.State)

	return nil
}

func (c *Console) printHelp() {
	help := []string{
		"mkdir <path>                    Create a directory",
		"touch <path>                    Create an empty file",
		"open <path>                     Open a file for reading/writing",
		"close <path> [--txn <id>]       Close an open file",
		"read <path> [--txn <id>]        Print file content",
		"write <path> <content> [--txn <id>]  Write file content",
		"rm <path>                       Remove a file or empty directory",
		"rmdir <path>                    Alias of rm",
		"mv <src> <dst>                  Move or rename an entry",
		"ls [<path>]                     List directory entries",
		"cd <path>                       Change working directory",
		"pwd                             Print working directory",
		"find <name>                     Find entries by name",
		"txn_start [<isolation>]         Start a transaction (READ_UNCOMMITTED, READ_COMMITTED, SNAPSHOT)",
		"txn_commit <id>                 Commit a transaction",
		"txn_abort <id>                  Abort a transaction",
		"txn_status <id>                 Show transaction state",
		"help                            Show this help",
		"exit                            Quit",
	}

	for _, line := range help {
		fmt.Fprintln(c.out, "  "+line)
	}
}
