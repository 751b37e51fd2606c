package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"flowbuilder/application/flowsync"
	"flowbuilder/domain/core/aggregates"

	"github.com/spf13/cobra"
)

func getCmd(opts *options) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "get <flow-id>",
		Short: "Print a flow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, cleanup, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Editor.RequestTimeout)
			defer cancel()

			doc, found, err := store.GetDocument(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("flow %q has no document", args[0])
			}

			out := cmd.OutOrStdout()
			if raw {
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, doc, "", "  "); err != nil {
					_, err = out.Write(append(doc, '\n'))
					return err
				}
				_, err = fmt.Fprintln(out, pretty.String())
				return err
			}

			snapshot, err := flowsync.Decode(args[0], doc)
			if err != nil {
				return err
			}
			printSnapshot(cmd, args[0], snapshot)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "Print the stored JSON instead of a table")
	return cmd
}

func printSnapshot(cmd *cobra.Command, flowID string, snapshot aggregates.GraphSnapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s  %d nodes, %d connections\n\n",
		Brand.Sprint("flow"), flowID, len(snapshot.Nodes), len(snapshot.Connections))

	rows := make([][]string, 0, len(snapshot.Nodes))
	for _, n := range snapshot.Nodes {
		rows = append(rows, []string{
			n.ID().String(),
			strconv.FormatFloat(n.Position().X(), 'f', -1, 64),
			strconv.FormatFloat(n.Position().Y(), 'f', -1, 64),
			n.Label(),
		})
	}
	table(out, []string{"ID", "X", "Y", "TEXT"}, rows)

	if len(snapshot.Connections) > 0 {
		fmt.Fprintln(out)
		rows = rows[:0]
		for _, c := range snapshot.Connections {
			rows = append(rows, []string{c.SourceID().String(), "→", c.TargetID().String()})
		}
		table(out, []string{"SOURCE", "", "TARGET"}, rows)
	}
}
