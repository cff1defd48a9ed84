package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfig = `database = "lab"

[connection]
dsn = "lab.db"

[[tables]]
class = "Subject"
definition = "subject_id : int"

[[tables]]
class = "Session"
definition = """
-> Subject
session : int
"""

[[links]]
class = "SourceLink"
name = "source"
links = ["Subject", "Session"]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relkit.toml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunDryRun(t *testing.T) {
	configPath := writeConfig(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	exitCode := run(context.Background(), []string{"--config", configPath, "--dry-run", "--gen", "models"}, stdout, stderr)
	if exitCode != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", exitCode, stderr.String())
	}
	out := stdout.String()
	if got := strings.Count(out, "CREATE TABLE IF NOT EXISTS"); got != 5 {
		t.Fatalf("stdout has %d CREATE TABLE statements, want 5:\n%s", got, out)
	}
	expected := filepath.Join(filepath.Dir(configPath), "models", "models.gen.go")
	if !strings.Contains(out, expected) {
		t.Fatalf("stdout %q missing generated file %q", out, expected)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(configPath), "lab.db")); !os.IsNotExist(err) {
		t.Fatalf("dry-run created the database: %v", err)
	}
}

func TestRunFill(t *testing.T) {
	configPath := writeConfig(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	exitCode := run(context.Background(), []string{"-c", configPath, "-fill", "-log-format", "json"}, stdout, stderr)
	if exitCode != 0 {
		t.Fatalf("exit code = %d, want 0; stderr=%q", exitCode, stderr.String())
	}
	if !strings.Contains(stdout.String(), "SourceLink: 0 keys filled") {
		t.Fatalf("stdout %q missing fill summary", stdout.String())
	}
	if !strings.Contains(stderr.String(), `"msg":"schema declared"`) {
		t.Fatalf("stderr %q missing json log record", stderr.String())
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(configPath), "lab.db")); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
}

func TestRunWriteError(t *testing.T) {
	configPath := writeConfig(t)
	blocker := filepath.Join(filepath.Dir(configPath), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	stderr := &bytes.Buffer{}

	exitCode := run(context.Background(), []string{"-c", configPath, "-gen", "blocker"}, &bytes.Buffer{}, stderr)
	if exitCode != 2 {
		t.Fatalf("exit code = %d, want 2; stderr=%q", exitCode, stderr.String())
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "help", args: []string{"-h"}, want: 0},
		{name: "unknown flag", args: []string{"-nope"}, want: 1},
		{name: "missing config", args: []string{"-c", filepath.Join(t.TempDir(), "missing.toml")}, want: 1},
		{name: "bad log format", args: []string{"-log-format", "xml"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(context.Background(), tt.args, &bytes.Buffer{}, &bytes.Buffer{}); got != tt.want {
				t.Fatalf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}
