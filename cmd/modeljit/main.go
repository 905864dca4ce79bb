package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dc0d/onexit"
	"github.com/specialistvlad/modeljit/internal/cli"
	"github.com/specialistvlad/modeljit/internal/jit"
)

// main is the entrypoint for the modeljit binary.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// The shared toolchain registers its teardown with onexit, which runs
	// on SIGINT/SIGTERM as well as on ForceExit.
	jit.DefaultToolchain()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()

	if err != nil {
		code := 1
		if exitErr, ok := err.(*cli.ExitError); ok {
			code = exitErr.Code
		}
		fmt.Fprintln(os.Stderr, err)
		onexit.ForceExit(code)
	}
	onexit.ForceExit(0)
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW, logW io.Writer, args []string) error {
	return cli.Execute(ctx, args, outW, logW)
}
