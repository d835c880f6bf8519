package main

import (
	"log/slog"
	"os"

	"posd/internal/app"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	application, err := app.New(Version)
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
