package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/pbxsched/pkg/ruleparse"
)

var parseCmd = &cobra.Command{
	Use:   "parse <rule text>",
	Short: "Parse a rule text offline and print the structured result",
	Example: `  pbxsched parse "Montag bis Freitag 08:00-17:00 Uhr" --target "Rufnummer 030 1234567"
  pbxsched parse "Heiligabend am 24.12.2026 Ansage: geschlossen"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		res, err := ruleparse.Parse(strings.Join(args, " "), target)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringP("target", "t", "", "Explicit forwarding target shown next to the rule")
}
