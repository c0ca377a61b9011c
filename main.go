// Package main runs a Reddit moderator bot that stickies submissions matching
// configured rules, walks their suggested sort through a fixed progression and
// unstickies them once they go stale.
package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
