package cli

import (
	"context"
	"fmt"

	"flowbuilder/application/flowsync"

	"github.com/spf13/cobra"
)

func putCmd(opts *options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "put <flow-id> <file|->",
		Short: "Replace a flow document",
		Long: "Replace a flow document. The file is validated and repaired the way an\n" +
			"editor would load it, and the repaired document is written.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flowID, path := args[0], args[1]

			doc, err := readInput(cmd, path)
			if err != nil {
				return err
			}
			r, err := inspect(flowID, doc)
			if err != nil {
				return err
			}
			printReport(cmd, path, r)

			normalized, err := flowsync.Encode(r.snapshot)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), Subtle.Sprint("  dry run, nothing written"))
				return nil
			}

			store, cfg, cleanup, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Editor.RequestTimeout)
			defer cancel()
			if err := store.UpsertDocument(ctx, flowID, normalized); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s (%d bytes)\n", StatusIcon(true), flowID, len(normalized))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without writing")
	return cmd
}
