package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightforgemedia/go-swell/pkg/client"
	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [params]",
	Short: "Dispatch one request and print its result",
	Long: `Dispatch one correlated request and print the result of the matching
response. params must be a JSON document.`,
	Example: `  swellctl call todos/list
  swellctl call todos/insert '{"title":"milk"}' --url ws://localhost:3000/samples/ws/todos`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	method := args[0]
	var params json.RawMessage
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("params for %q are not valid JSON", method)
		}
		params = json.RawMessage(args[1])
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	store := client.NewStore(s.conn, json.RawMessage(nil), map[string]client.Reducer[json.RawMessage]{
		method: keepResult,
	}, client.WithPrefix(method), client.WithStoreLogger(s.logger))
	defer store.Close()

	h, err := store.Dispatch(method, params)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		var appErr *client.ApplicationError
		if errors.As(err, &appErr) {
			return fmt.Errorf("%s: %s", method, jsonrpc.DescribeError(appErr.Payload))
		}
		return fmt.Errorf("%s: %w", method, err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, store.Get(), "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())
	return nil
}

func keepResult(_ json.RawMessage, result json.RawMessage) (json.RawMessage, error) {
	return append(json.RawMessage(nil), result...), nil
}
