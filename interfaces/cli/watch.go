package cli

import (
	"context"
	"fmt"
	"time"

	"flowbuilder/application/flowsync"
	"flowbuilder/application/ports"

	"github.com/spf13/cobra"
)

func watchCmd(opts *options) *cobra.Command {
	var event string

	cmd := &cobra.Command{
		Use:   "watch <flow-id>",
		Short: "Print every remote change to a flow until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ports.EventFilter(event)
			switch filter {
			case ports.EventAll, ports.EventInsert, ports.EventUpdate:
			default:
				return fmt.Errorf("unknown event %q; use *, INSERT or UPDATE", event)
			}

			store, cfg, cleanup, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			changes := make(chan []byte, 16)
			subscribeCtx, cancel := context.WithTimeout(cmd.Context(), cfg.Editor.RequestTimeout)
			sub, err := store.Subscribe(subscribeCtx, args[0], filter, func(doc []byte) {
				select {
				case changes <- doc:
				default:
				}
			})
			cancel()
			if err != nil {
				return err
			}
			defer func() { _ = sub.Unsubscribe() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s watching %s %s\n", Brand.Sprint("flowctl"), args[0], Subtle.Sprint("(ctrl-c to stop)"))

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case doc := <-changes:
					stamp := Subtle.Sprint(time.Now().Format("15:04:05"))
					snapshot, err := flowsync.Decode(args[0], doc)
					if err != nil {
						fmt.Fprintf(out, "%s %s %s\n", stamp, StatusIcon(false), err)
						continue
					}
					fmt.Fprintf(out, "%s %s %d nodes, %d connections\n",
						stamp, StatusIcon(true), len(snapshot.Nodes), len(snapshot.Connections))
				}
			}
		},
	}
	cmd.Flags().StringVar(&event, "event", string(ports.EventAll), "Change kind to watch: *, INSERT or UPDATE")
	return cmd
}
