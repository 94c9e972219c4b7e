package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"reelsmith/internal/config"
	"reelsmith/internal/queue"
	"reelsmith/internal/testsupport"
)

type cliTestEnv struct {
	cfg   *config.Config
	store *queue.Store
	ctx   *commandContext
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := newCommandContext(nil)
	ctx.config = cfg

	return &cliTestEnv{cfg: cfg, store: store, ctx: ctx}
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output %q does not contain %q", output, want)
	}
}

func TestRootCommandShowsHelp(t *testing.T) {
	out, err := runCommand(t, newRootCommand(), "--help")
	if err != nil {
		t.Fatalf("root --help: %v", err)
	}
	requireContains(t, out, "reelsmith")
	requireContains(t, out, "submit")
}

func TestParseJobID(t *testing.T) {
	if _, err := parseJobID("0"); err == nil {
		t.Fatal("expected rejection of zero id")
	}
	if _, err := parseJobID("abc"); err == nil {
		t.Fatal("expected rejection of non-numeric id")
	}
	id, err := parseJobID(" 42 ")
	if err != nil {
		t.Fatalf("parseJobID: %v", err)
	}
	if id != 42 {
		t.Fatalf("parseJobID = %d, want 42", id)
	}
}
