// Package cli implements the mockcore command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockcore/pkg/config"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// DefaultConfigPath is used when --config is not given and MOCKCORE_CONFIG
// is unset.
const DefaultConfigPath = "mockcore.yaml"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *rootOptions) load() (*config.Document, error) {
	return config.Load(o.configPath)
}

// logger builds the logger from the document, letting flags win.
func (o *rootOptions) logger(doc *config.Document, out io.Writer) *slog.Logger {
	section := doc.Logging
	if o.logLevel != "" {
		section.Level = o.logLevel
	}
	if o.logFormat != "" {
		section.Format = o.logFormat
	}
	return section.Logger(out)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "mockcore",
		Short: "mockcore resolves mock responses for declared APIs",
		Long: `mockcore answers HTTP and WebSocket traffic for a declared API surface.

Each request is resolved in order from recorded fixtures, predicate rules,
schema-driven synthesis and finally a real upstream, with optional latency
and fault injection on top.

Configuration is read from a YAML or JSON document (default mockcore.yaml,
or $MOCKCORE_CONFIG).`,
		SilenceUsage:  true,
		SilenceErrors: true, // We handle errors in Execute()
	}

	defaultConfig := DefaultConfigPath
	if env := os.Getenv("MOCKCORE_CONFIG"); env != "" {
		defaultConfig = env
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfig, "Configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (text, json); overrides the config")

	root.AddCommand(
		newServeCommand(opts),
		newRecordCommand(opts),
		newReplayCommand(opts),
		newValidateCommand(opts),
		newFixturesCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
