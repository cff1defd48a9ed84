// Package cli parses relkit command-line flags.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/electwix/relkit/internal/config"
	"github.com/electwix/relkit/internal/logging"
)

// Options holds the parsed command line.
type Options struct {
	ConfigPath   string
	DryRun       bool
	Fill         bool
	GenOut       string
	StrictConfig bool
	Verbose      bool
	LogFormat    logging.Format
}

// Parse parses args, excluding the program name.
func Parse(args []string) (Options, error) {
	opts := Options{
		ConfigPath: config.DefaultPath,
		LogFormat:  logging.FormatText,
	}

	fs := flag.NewFlagSet("relkit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var logFormat string
	fs.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Path to configuration file (TOML or YAML)")
	fs.StringVar(&opts.ConfigPath, "c", opts.ConfigPath, "Path to configuration file (TOML or YAML)")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Print DDL without touching the database or writing files")
	fs.BoolVar(&opts.Fill, "fill", false, "Fill link tables after declaring them")
	fs.StringVar(&opts.GenOut, "gen", "", "Write generated Go row types to this directory")
	fs.BoolVar(&opts.StrictConfig, "strict-config", false, "Treat configuration warnings as errors")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.Verbose, "v", false, "Enable verbose logging")
	fs.StringVar(&logFormat, "log-format", string(logging.FormatText), "Log format: text or json")

	if err := fs.Parse(args); err != nil {
		return Options{}, fmt.Errorf("%w\n\n%s", err, Usage(fs))
	}

	format, err := logging.ParseFormat(logFormat)
	if err != nil {
		return Options{}, err
	}
	opts.LogFormat = format

	if fs.NArg() > 0 {
		return Options{}, errors.New("unexpected arguments: " + strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// Usage renders the flag defaults.
func Usage(fs *flag.FlagSet) string {
	if fs == nil {
		return ""
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "Usage of %s:\n", fs.Name())
	out := fs.Output()
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(out)
	return buf.String()
}
