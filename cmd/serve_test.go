package cmd

import (
	"os"
	"strings"
	"testing"
)

func TestServeShutdownSourceContract(t *testing.T) {
	contentBytes, err := os.ReadFile("serve.go")
	if err != nil {
		t.Fatalf("read serve.go: %v", err)
	}
	content := string(contentBytes)

	for _, needle := range []string{
		"Received signal",
		"syscall.SIGTERM",
		"a.startFresh()",
		"srv.Stop(ctx)",
		"opts.WidgetProject = cfg.WidgetProjectID",
	} {
		if !strings.Contains(content, needle) {
			t.Fatalf("expected %q in serve.go", needle)
		}
	}
}

func TestRootRunsServeByDefault(t *testing.T) {
	if rootCmd.RunE == nil {
		t.Fatal("root command must serve when called without a subcommand")
	}
	found := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"serve", "session"} {
		if !found[name] {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}
