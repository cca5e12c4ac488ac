package cmd

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/pbxsched/internal/utils"
	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/orchestrator"
)

var syncCmd = &cobra.Command{
	Use:   "sync [instance...]",
	Short: "Sync call-routing modules of one, several or all configured instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if len(args) == 0 && !all {
			return fmt.Errorf("name at least one instance or pass --all")
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		showWarnings, _ := cmd.Flags().GetBool("warnings")

		a, err := newApp(cmd.Context(), appOptions{browser: true, lock: true})
		if err != nil {
			return err
		}
		defer a.Close()

		var ids []string
		if all {
			ids = a.instanceIDs()
		} else {
			for _, ref := range args {
				rec, err := a.instance(ref)
				if err != nil {
					return err
				}
				ids = append(ids, rec.ID)
			}
		}
		if concurrency <= 0 {
			concurrency = a.cfg.Sync.Concurrency
		}

		var mu sync.Mutex
		failed := 0
		a.orch.SyncAll(cmd.Context(), ids, concurrency, func(r orchestrator.SyncResult) {
			mu.Lock()
			defer mu.Unlock()
			if r.Err != nil {
				failed++
				if appErr := apperrors.GetAppError(r.Err); appErr != nil && appErr.IsRetryable() {
					utils.Log.Errorf("%s: %v (try again later)", r.InstanceID, r.Err)
					return
				}
				utils.Log.Errorf("%s: %v", r.InstanceID, r.Err)
				return
			}
			s := r.Summary
			fmt.Printf("%s: %d modules, %d rules, %d warnings (fetched %s)\n",
				s.InstanceID, s.ModuleCount, s.RuleCount, len(s.Warnings), s.FetchedAt.Format("2006-01-02 15:04:05"))
			if showWarnings {
				for _, w := range s.Warnings {
					fmt.Printf("  warning: %s\n", w)
				}
			}
		})
		if failed > 0 {
			return fmt.Errorf("%d of %d syncs failed", failed, len(ids))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("all", false, "Sync every configured instance")
	syncCmd.Flags().IntP("concurrency", "c", 0, "Number of instances synced in parallel (default from sync.concurrency)")
	syncCmd.Flags().BoolP("warnings", "w", false, "Print parser and scraper warnings")
}
