package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"flowbuilder/application/flowsync"
	"flowbuilder/domain/core/aggregates"

	"github.com/spf13/cobra"
)

// report describes how a document would load into an editor
type report struct {
	snapshot    aggregates.GraphSnapshot
	nodes       int
	connections int
}

func (r report) droppedNodes() int       { return r.nodes - len(r.snapshot.Nodes) }
func (r report) droppedConnections() int { return r.connections - len(r.snapshot.Connections) }
func (r report) clean() bool             { return r.droppedNodes() == 0 && r.droppedConnections() == 0 }

// inspect decodes doc and repairs it the way an editor does on load
func inspect(key string, doc []byte) (report, error) {
	decoded, err := flowsync.Decode(key, doc)
	if err != nil {
		return report{}, err
	}

	var counts struct {
		Nodes       []json.RawMessage `json:"nodes"`
		Connections []json.RawMessage `json:"connections"`
	}
	if err := json.Unmarshal(doc, &counts); err != nil {
		return report{}, err
	}

	return report{
		snapshot:    aggregates.NewGraphFromSnapshot(decoded).Snapshot(),
		nodes:       len(counts.Nodes),
		connections: len(counts.Connections),
	}, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func printReport(cmd *cobra.Command, name string, r report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s  %d nodes, %d connections\n",
		StatusIcon(true), name, len(r.snapshot.Nodes), len(r.snapshot.Connections))
	if n := r.droppedNodes(); n > 0 {
		fmt.Fprintln(out, Warn.Sprintf("  %d node(s) without a usable id or repeating one will be dropped", n))
	}
	if n := r.droppedConnections(); n > 0 {
		fmt.Fprintln(out, Warn.Sprintf("  %d connection(s) that loop, repeat or dangle will be dropped", n))
	}
}

func validateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Check that a file is a well-formed flow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			r, err := inspect(args[0], doc)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", StatusIcon(false), args[0])
				return err
			}
			printReport(cmd, args[0], r)

			if strict && !r.clean() {
				return fmt.Errorf("%s would be repaired on load", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when entries would be dropped on load")
	return cmd
}
