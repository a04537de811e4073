package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockcore/pkg/mock"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without starting the server",
		Long: `Validate the configuration document and every file it includes.

This command checks:
  - YAML/JSON syntax and unknown keys
  - Operation paths and schemas
  - Rule predicates (JSONPath and expr compile) and routes
  - Chaos profiles and bindings
  - Fixture, proxy, validation and WebSocket sections`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			doc, err := root.load()
			if err != nil {
				return err
			}
			if verbose {
				for _, f := range doc.Files {
					fmt.Fprintf(out, "Loaded %s\n", f)
				}
			}

			if err := doc.Validate(); err != nil {
				var me *mock.Error
				if !errors.As(err, &me) {
					return err
				}
				fmt.Fprintln(out, "Validation failed:")
				for _, d := range me.Details {
					fmt.Fprintf(out, "  - %s\n", d)
				}
				return fmt.Errorf("validation failed with %d error(s)", len(me.Details))
			}

			fmt.Fprintln(out, "Configuration is valid.")
			if verbose {
				fmt.Fprintf(out, "  operations: %d\n", len(doc.Operations))
				fmt.Fprintf(out, "  rules:      %d\n", len(doc.Rules))
				fmt.Fprintf(out, "  upstreams:  %d\n", len(doc.Proxy.Upstreams))
				fmt.Fprintf(out, "  endpoints:  %d\n", len(doc.WebSocket.Endpoints))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show loaded files and a summary")
	return cmd
}
