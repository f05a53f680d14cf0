package console_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/txfs/internal/console"
)

// xdgEnv points the global config lookup at dir so tests never touch
// the real home directory.
func xdgEnv(dir string) []string {
	return []string{"XDG_CONFIG_HOME=" + dir}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func Test_LoadConfig_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	cfg, sources, err := console.LoadConfig(t.TempDir(), "", xdgEnv(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.DefaultIsolation != "READ_COMMITTED" {
		t.Fatalf("default isolation must be READ_COMMITTED; got %q", cfg.DefaultIsolation)
	}

	if sources.Global != "" || sources.Project != "" {
		t.Fatalf("no sources must be reported; got %+v", sources)
	}
}

func Test_LoadConfig_Parses_HuJSON_With_Comments(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	writeFile(t, filepath.Join(workDir, console.ConfigFileName), `{
		// keep snapshots by default
		"default_isolation": "SNAPSHOT",
		"prompt": "fs> ", // trailing comma is fine too
	}`)

	cfg, sources, err := console.LoadConfig(workDir, "", xdgEnv(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.DefaultIsolation != "SNAPSHOT" {
		t.Fatalf("project config must win; got %q", cfg.DefaultIsolation)
	}

	if cfg.Prompt != "fs> " {
		t.Fatalf("prompt must be loaded; got %q", cfg.Prompt)
	}

	if sources.Project == "" {
		t.Fatal("project source must be reported")
	}
}

func Test_LoadConfig_Project_Overrides_Global(t *testing.T) {
	t.Parallel()

	xdg := t.TempDir()
	writeFile(t, filepath.Join(xdg, "txfs", "config.json"), `{
		"default_isolation": "READ_UNCOMMITTED",
		"history_file": "/tmp/global-history"
	}`)

	workDir := t.TempDir()
	writeFile(t, filepath.Join(workDir, console.ConfigFileName), `{
		"default_isolation": "SNAPSHOT"
	}`)

	cfg, sources, err := console.LoadConfig(workDir, "", xdgEnv(xdg))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.DefaultIsolation != "SNAPSHOT" {
		t.Fatalf("project config must override global; got %q", cfg.DefaultIsolation)
	}

	if cfg.HistoryFile != "/tmp/global-history" {
		t.Fatalf("global-only fields must survive the merge; got %q", cfg.HistoryFile)
	}

	if sources.Global == "" || sources.Project == "" {
		t.Fatalf("both sources must be reported; got %+v", sources)
	}
}

func Test_LoadConfig_Rejects_Missing_Explicit_File(t *testing.T) {
	t.Parallel()

	_, _, err := console.LoadConfig(t.TempDir(), "/does/not/exist.json", xdgEnv(t.TempDir()))
	if err == nil {
		t.Fatal("a missing explicit config file must be an error")
	}
}

func Test_LoadConfig_Rejects_Unknown_Isolation(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	writeFile(t, filepath.Join(workDir, console.ConfigFileName), `{
		"default_isolation": "SERIALIZABLE"
	}`)

	_, _, err := console.LoadConfig(workDir, "", xdgEnv(t.TempDir()))
	if err == nil {
		t.Fatal("an unknown isolation level must be an error")
	}
}

func Test_LoadConfig_Rejects_Malformed_File(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	writeFile(t, filepath.Join(workDir, console.ConfigFileName), `{not json at all`)

	_, _, err := console.LoadConfig(workDir, "", xdgEnv(t.TempDir()))
	if err == nil {
		t.Fatal("a malformed config file must be an error")
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		t.Fatalf("parse failures must not surface as path errors; got %v", err)
	}
}
