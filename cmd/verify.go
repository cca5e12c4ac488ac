package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <instance>",
	Short: "Log into an instance and report whether the administration area is reachable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{browser: true, lock: true})
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.instance(args[0])
		if err != nil {
			return err
		}
		if err := a.orch.VerifyLogin(cmd.Context(), rec.ID); err != nil {
			return err
		}
		h, _ := a.registry.Health(rec.ID)
		fmt.Printf("%s: login ok (selectors %s)\n", rec.BaseURL, h.SelectorVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
