package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockcore/pkg/fixture"
)

func newFixturesCommand(root *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "fixtures <route>",
		Short: "List the fixtures recorded for a route",
		Long: `List the fixtures recorded for a route, oldest first.

The route is an operation id, or "METHOD /path" for undeclared routes.`,
		Example: `  mockcore fixtures "GET /users/{id}"
  mockcore fixtures users.get --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := root.load()
			if err != nil {
				return err
			}
			if !doc.Fixtures.Enabled() {
				return errors.New("no fixtures directory configured")
			}
			store, err := fixture.NewStore(doc.Fixtures.Config, nil)
			if err != nil {
				return err
			}
			entries, err := store.Entries(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if entries == nil {
					entries = []fixture.Entry{}
				}
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "No fixtures recorded for %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINGERPRINT\tSEQ\tSTATUS\tMETHOD\tPATH\tRECORDED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
					e.Fingerprint, e.Sequence, e.Status, e.Method, e.Path, e.RecordedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
