// Command iapctl drives a running entitlement API from the shell.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	server  string
	apiKey  string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "iapctl",
		Short:         "Drive the IAP entitlement API",
		Long:          `Send billing requests to a running entitlement API and read their completions by callback id.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("IAPCTL_SERVER", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("IAPCTL_API_KEY"), "API key")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 40*time.Second, "HTTP timeout")

	root.AddCommand(
		newInitializeCmd(opts),
		newPurchaseCmd(opts, "buy", "Buy a one-time product", "/api/v1/billing/buy"),
		newPurchaseCmd(opts, "subscribe", "Subscribe to a product", "/api/v1/billing/subscribe"),
		newConsumeCmd(opts),
		newQueryCmd(opts, "purchases", "Request the owned purchases", "/api/v1/billing/purchases"),
		newQueryCmd(opts, "products", "Request the available products", "/api/v1/billing/products"),
		newFlowsCmd(opts),
		newDecideCmd(opts, "approve"),
		newDecideCmd(opts, "cancel"),
		newPollCmd(opts),
		newStateCmd(opts),
	)
	return root
}

func newInitializeCmd(opts *options) *cobra.Command {
	var (
		callbackID int
		skus       []string
		verify     bool
	)
	cmd := &cobra.Command{
		Use:   "initialize",
		Short: "Open a billing session and load the inventory",
		Example: `  iapctl initialize --callback-id 1 --skus gem,gold
  iapctl poll 1 --wait 5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, http.MethodPost, "/api/v1/billing/initialize", map[string]interface{}{
				"callback_id":     callbackID,
				"skus":            skus,
				"verify_receipts": verify,
			})
		},
	}
	cmd.Flags().IntVar(&callbackID, "callback-id", 1, "callback id of the completion")
	cmd.Flags().StringSliceVar(&skus, "skus", nil, "products to load (default all)")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify purchase receipts")
	return cmd
}

func newPurchaseCmd(opts *options, use, short, path string) *cobra.Command {
	var (
		callbackID int
		payload    string
		replaced   []string
	)
	cmd := &cobra.Command{
		Use:   use + " <sku>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"callback_id": callbackID,
				"sku":         args[0],
				"payload":     payload,
			}
			if len(replaced) > 0 {
				body["replaced_skus"] = replaced
			}
			return run(cmd, opts, http.MethodPost, path, body)
		},
	}
	cmd.Flags().IntVar(&callbackID, "callback-id", 1, "callback id of the completion")
	cmd.Flags().StringVar(&payload, "payload", "", "developer payload")
	if use == "subscribe" {
		cmd.Flags().StringSliceVar(&replaced, "replace", nil, "subscriptions replaced by this one")
	}
	return cmd
}

func newConsumeCmd(opts *options) *cobra.Command {
	var callbackID int
	cmd := &cobra.Command{
		Use:   "consume <sku>",
		Short: "Consume an owned one-time product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, http.MethodPost, "/api/v1/billing/consume", map[string]interface{}{
				"callback_id": callbackID,
				"sku":         args[0],
			})
		},
	}
	cmd.Flags().IntVar(&callbackID, "callback-id", 1, "callback id of the completion")
	return cmd
}

func newQueryCmd(opts *options, use, short, path string) *cobra.Command {
	var callbackID int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, http.MethodGet, path+"?callback_id="+strconv.Itoa(callbackID), nil)
		},
	}
	cmd.Flags().IntVar(&callbackID, "callback-id", 1, "callback id of the completion")
	return cmd
}

func newFlowsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List pending sandbox purchase flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, http.MethodGet, "/api/v1/sandbox/flows", nil)
		},
	}
}

func newDecideCmd(opts *options, decision string) *cobra.Command {
	return &cobra.Command{
		Use:   decision + " <marker>",
		Short: "Decide a pending sandbox purchase flow: " + decision,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/sandbox/flows/" + url.PathEscape(args[0]) + "/" + decision
			return run(cmd, opts, http.MethodPost, path, nil)
		},
	}
}

func newPollCmd(opts *options) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "poll <callback-id>",
		Short: "Read the completion of a callback id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("callback id must be an integer: %w", err)
			}
			path := "/api/v1/callbacks/" + strconv.Itoa(id)
			if wait > 0 {
				path += "?wait=" + url.QueryEscape(wait.String())
			}
			return run(cmd, opts, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "long-poll up to this long")
	return cmd
}

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the billing client state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, http.MethodGet, "/api/v1/billing/state", nil)
		},
	}
}

func run(cmd *cobra.Command, opts *options, method, path string, body interface{}) error {
	client := newAPIClient(opts.server, opts.apiKey, opts.timeout)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := client.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func printJSON(w io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
