package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/compresr/callrisk/internal/monitoring"
	"github.com/compresr/callrisk/internal/server"
	"github.com/compresr/callrisk/internal/utils"
)

var (
	flagRequest  string
	flagAnnotate string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Assess a request before it is sent",
	Long: `Reads a CallRequest (or a provider-native request body) and prints the
monitoring snapshot as JSON. The check is advisory: it exits 0 even when
alerts are raised.`,
	Example: `  callrisk check --request req.json
  cat req.json | callrisk check --request - --annotate annotated.json`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&flagRequest, "request", "r", "-", "Request JSON file, - for stdin")
	checkCmd.Flags().StringVar(&flagAnnotate, "annotate", "", "Write the request with metadata.call_risk set to this path")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	body, err := readInput(flagRequest)
	if err != nil {
		return err
	}
	req, err := server.ParseCallRequest(body)
	if err != nil {
		return fmt.Errorf("request %s: %w", flagRequest, err)
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer closeSession(sess)

	snap := sess.MonitorBeforeCall(cmd.Context(), req)

	out, err := utils.MarshalIndentNoEscape(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if flagAnnotate != "" {
		return writeAnnotated(flagAnnotate, body, snap)
	}
	return nil
}

// annotation is the summary embedded into an annotated request.
type annotation struct {
	SessionID   string   `json:"session_id"`
	CallID      string   `json:"call_id"`
	OverallRisk float64  `json:"overall_risk"`
	HighRisk    bool     `json:"high_risk"`
	Alerts      []string `json:"alerts"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// annotate sets metadata.call_risk on body, leaving the rest untouched.
func annotate(body []byte, snap *monitoring.Snapshot) ([]byte, error) {
	alerts := snap.Alerts.Messages
	if alerts == nil {
		alerts = []string{}
	}
	return sjson.SetBytes(body, "metadata.call_risk", annotation{
		SessionID:   snap.SessionID,
		CallID:      snap.CallID,
		OverallRisk: snap.Risk.OverallRisk,
		HighRisk:    snap.Alerts.HighRisk,
		Alerts:      alerts,
		Degraded:    snap.Degraded,
	})
}

func writeAnnotated(path string, body []byte, snap *monitoring.Snapshot) error {
	out, err := annotate(body, snap)
	if err != nil {
		return fmt.Errorf("annotate request: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	// #nosec G304 -- path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
