package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/pbxsched/pkg/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <instance>",
	Short: "Show the routing blocks of a day and the conflicts between modules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dateFlag, _ := cmd.Flags().GetString("date")
		asJSON, _ := cmd.Flags().GetBool("json")

		date := time.Now()
		if dateFlag != "" {
			d, err := time.ParseInLocation("2006-01-02", dateFlag, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", dateFlag)
			}
			date = d
		}

		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.instance(args[0])
		if err != nil {
			return err
		}
		p, err := a.orch.Payload(cmd.Context(), rec.ID)
		if err != nil {
			return err
		}

		blocks := schedule.EvaluatePayload(p, date)
		conflicts := schedule.DetectConflicts(blocks)

		if asJSON {
			out, err := json.MarshalIndent(map[string]interface{}{
				"instanceId": rec.ID,
				"date":       date.Format("2006-01-02"),
				"blocks":     blocks,
				"conflicts":  conflicts,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("%s on %s (data from %s)\n", rec.BaseURL, date.Format("Mon 2006-01-02"), p.FetchedAt.Local().Format("2006-01-02 15:04"))
		for _, b := range blocks {
			target := b.TargetType
			if b.TargetValue != "" {
				target += " " + b.TargetValue
			}
			fmt.Printf("  %s-%s  %-24s %-16s %s\n", schedule.FormatMinutes(b.Start), schedule.FormatMinutes(b.End), b.ModuleName, b.PhoneNumber, target)
		}
		if len(blocks) == 0 {
			fmt.Println("  no rule applies")
		}
		for _, c := range conflicts {
			fmt.Printf("conflict on %s: %s wins over %s\n", c.Higher.PhoneNumber, c.Higher, c.Lower)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().StringP("date", "d", "", "Day to evaluate as YYYY-MM-DD (default today)")
	scheduleCmd.Flags().Bool("json", false, "Print blocks and conflicts as JSON")
}
