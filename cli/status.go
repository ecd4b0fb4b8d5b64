package cli

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates the "status" subcommand, a client for the
// control API of a running daemon.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running mailcycle daemon",
		RunE:  runStatus,
	}

	cmd.Flags().String("addr", "http://localhost:8080", "Daemon control API address")
	cmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")
	cmd.Flags().Int("cycles", 0, "Also fetch the N most recent cycle records")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	cycles, _ := cmd.Flags().GetInt("cycles")

	client := resty.New().
		SetBaseURL(addr).
		SetTimeout(timeout)

	var status json.RawMessage
	resp, err := client.R().SetContext(cmd.Context()).SetResult(&status).Get("/status")
	if err != nil {
		return exitError(exitRuntime, "fetching status: %v", err)
	}
	if resp.IsError() {
		return exitError(exitRuntime, "fetching status: %s", resp.Status())
	}

	out := map[string]json.RawMessage{"status": status}
	if cycles > 0 {
		var history json.RawMessage
		resp, err := client.R().SetContext(cmd.Context()).
			SetQueryParam("limit", strconv.Itoa(cycles)).
			SetResult(&history).
			Get("/cycles")
		if err != nil {
			return exitError(exitRuntime, "fetching cycles: %v", err)
		}
		if resp.IsError() {
			return exitError(exitRuntime, "fetching cycles: %s", resp.Status())
		}
		out["history"] = history
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
