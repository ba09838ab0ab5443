package main

import "testing"

func TestStartupErrorExitCode(t *testing.T) {
	t.Setenv("GAMEHUB_SERVER_DEBUG_LEVEL", "9")
	if got := run(); got != 1 {
		t.Fatalf("exit code = %d, want 1 for a fatal startup error", got)
	}
}
