package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs <instance>",
	Short: "List the most recent sync attempts of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.instance(args[0])
		if err != nil {
			return err
		}
		runs, err := a.orch.ListSyncRuns(cmd.Context(), rec.ID, limit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			status := "running"
			if r.FinishedAt != nil {
				status = fmt.Sprintf("ok, %d modules, %d rules", r.ModuleCount, r.RuleCount)
				if !r.OK {
					status = r.ErrorCode + ": " + r.ErrorMessage
				}
			}
			fmt.Printf("%s  %s  %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.ID, status)
		}
		if len(runs) == 0 {
			fmt.Println("No syncs recorded yet.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntP("limit", "n", 20, "Number of runs to show (0 for all)")
}
