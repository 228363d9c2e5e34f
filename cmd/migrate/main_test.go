package main

import (
	"bytes"
	"errors"
	"testing"

	"helpdesk-auth/backend/internal/db/migrate"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"up", "down", "version"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
}

func TestRootCmd_RequiresDatabaseURL(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")
	for _, name := range []string{"up", "version"} {
		root := newRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetArgs([]string{name})
		if err := root.Execute(); !errors.Is(err, migrate.ErrNoDSN) {
			t.Errorf("%s: err = %v, want ErrNoDSN", name, err)
		}
	}
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"up", "extra"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for extra argument")
	}
}
