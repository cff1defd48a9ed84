// Package main implements the relkit CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/electwix/relkit/internal/cli"
	"github.com/electwix/relkit/internal/logging"
	"github.com/electwix/relkit/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := cli.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	logger := logging.New(logging.Options{
		Verbose: opts.Verbose,
		Format:  opts.LogFormat,
		Writer:  stderr,
	})

	pipe := pipeline.Pipeline{Env: pipeline.Environment{
		Logger: logging.NewSlogAdapter(logger),
		Writer: pipeline.NewOSWriter(),
	}}
	summary, runErr := pipe.Run(ctx, pipeline.RunOptions{
		ConfigPath:   opts.ConfigPath,
		DryRun:       opts.DryRun,
		Fill:         opts.Fill,
		GenOut:       opts.GenOut,
		StrictConfig: opts.StrictConfig,
	})
	if runErr != nil {
		_, _ = fmt.Fprintln(stderr, runErr.Error())
		var writeErr *pipeline.WriteError
		if errors.As(runErr, &writeErr) {
			return 2
		}
		return 1
	}

	if opts.DryRun {
		for _, stmt := range summary.DDL {
			_, _ = fmt.Fprintf(stdout, "%s\n\n", stmt)
		}
		for _, file := range summary.Files {
			_, _ = fmt.Fprintln(stdout, "--", file.Path)
		}
		return 0
	}

	for _, class := range slices.Sorted(maps.Keys(summary.Filled)) {
		_, _ = fmt.Fprintf(stdout, "%s: %d keys filled\n", class, summary.Filled[class])
	}
	return 0
}
