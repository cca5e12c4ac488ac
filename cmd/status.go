package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/pbxsched/pkg/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every configured instance with its last stored payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		payloads, err := a.db.ListPayloads(cmd.Context())
		if err != nil {
			return err
		}
		stored := make(map[string]storage.PayloadInfo, len(payloads))
		for _, p := range payloads {
			stored[p.InstanceID] = p
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INSTANCE\tURL\tFETCHED\tMODULES\tRULES\tWARNINGS\tSELECTORS")
		for _, rec := range a.registry.List() {
			p, ok := stored[rec.ID]
			if !ok {
				fmt.Fprintf(w, "%s\t%s\tnever\t-\t-\t-\t-\n", rec.ID, rec.BaseURL)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", rec.ID, rec.BaseURL,
				p.FetchedAt.Local().Format("2006-01-02 15:04"), p.ModuleCount, p.RuleCount, p.WarningCount, p.SelectorVersion)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
