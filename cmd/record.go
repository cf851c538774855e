package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/compresr/callrisk/internal/monitoring"
)

var recordFlags struct {
	callID   string
	success  bool
	errMsg   string
	provider string
	model    string
	cost     float64
	tokens   int
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the outcome of an executed call",
	Long: `Appends a call outcome to the monitoring history. Outcomes only outlive
this process when history_db_path is configured.`,
	Example: `  callrisk record --call-id 3f2b8c1e --success --provider openai --model gpt-4o --cost 0.004 --tokens 812
  callrisk record --call-id 3f2b8c1e --error "429 Too Many Requests" --provider openai`,
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordFlags.callID, "call-id", "", "Call id returned by check")
	f.BoolVar(&recordFlags.success, "success", false, "The call succeeded")
	f.StringVar(&recordFlags.errMsg, "error", "", "Error text of a failed call")
	f.StringVar(&recordFlags.provider, "provider", "", "Provider name")
	f.StringVar(&recordFlags.model, "model", "", "Model name")
	f.Float64Var(&recordFlags.cost, "cost", 0, "Actual cost in USD")
	f.IntVar(&recordFlags.tokens, "tokens", 0, "Actual tokens used")
	recordCmd.MarkFlagsMutuallyExclusive("success", "error")
	recordCmd.MarkFlagsOneRequired("success", "error")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	if cfg.HistoryDBPath == "" {
		log.Warn().Msg("callrisk: history_db_path is not set, outcome is not persisted")
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer closeSession(sess)

	res := monitoring.CallResult{
		CallID:   recordFlags.callID,
		Success:  recordFlags.success && recordFlags.errMsg == "",
		Error:    recordFlags.errMsg,
		Provider: recordFlags.provider,
		Model:    recordFlags.model,
		Cost:     recordFlags.cost,
		Tokens:   recordFlags.tokens,
	}
	sess.RecordCallResult(cmd.Context(), res)

	status := "succeeded"
	if !res.Success {
		status = "failed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s call %s (%d in window)\n", status, res.CallID, len(sess.History()))
	return nil
}
