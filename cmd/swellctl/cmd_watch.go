package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
)

var watchCmd = &cobra.Command{
	Use:   "watch [prefix]",
	Short: "Print connection events and incoming messages",
	Long: `Keep the connection open and print every lifecycle event and every message
whose id starts with prefix. Without a prefix all messages are printed.
Stops on SIGINT or SIGTERM.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	events := s.conn.Watch(ctx)
	remove := s.conn.Subscribe(prefix, func(resp *jsonrpc.Response) {
		fmt.Fprintf(out, "message %s\n", resp.Raw)
	})
	defer remove()

	for ev := range events {
		switch {
		case ev.Err != nil:
			fmt.Fprintf(out, "event %s state=%s error=%v\n", ev.Kind, ev.State, ev.Err)
		case ev.Delay > 0:
			fmt.Fprintf(out, "event %s attempt=%d delay=%s\n", ev.Kind, ev.Attempt, ev.Delay)
		default:
			fmt.Fprintf(out, "event %s state=%s\n", ev.Kind, ev.State)
		}
	}
	return nil
}
