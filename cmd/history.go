package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/compresr/callrisk/internal/utils"
)

var flagHistoryJSON bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List outcomes inside the monitoring window",
	Long:  "Lists outcomes loaded from history_db_path that still fall inside the monitoring window, oldest first.",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&flagHistoryJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	defer closeSession(sess)

	outcomes := sess.History()
	w := cmd.OutOrStdout()

	if flagHistoryJSON {
		out, err := utils.MarshalIndentNoEscape(outcomes)
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	if len(outcomes) == 0 {
		fmt.Fprintf(w, "No outcomes in the last %d minutes\n", cfg.MonitoringWindow)
		return nil
	}
	for _, o := range outcomes {
		status := "ok"
		if !o.Success {
			status = "FAIL " + utils.Truncate(o.Error, 60)
		}
		fmt.Fprintf(w, "%s  %-8s  %-10s %-24s $%.4f %6d  %s\n",
			o.Timestamp.Local().Format(time.DateTime),
			utils.ShortID(o.CallID),
			o.Provider,
			o.Model,
			o.Cost,
			o.Tokens,
			status,
		)
	}
	return nil
}
