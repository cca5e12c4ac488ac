package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/pbxsched/internal/server"
	"github.com/sw33tLie/pbxsched/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the optional scheduled syncs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, appOptions{browser: true, lock: true})
		if err != nil {
			return err
		}
		defer a.Close()

		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = a.cfg.Server.Listen
		}
		if a.cfg.Server.Username == "" || a.cfg.Server.Password == "" {
			utils.Log.Warn("server.username/server.password are not set, the API is unauthenticated")
		}

		srv := server.New(a.orch, a.cfg.Server.Username, a.cfg.Server.Password)
		if a.cfg.Server.SyncCron != "" {
			if err := srv.ScheduleSyncs(a.cfg.Server.SyncCron, a.instanceIDs, a.cfg.Sync.Concurrency); err != nil {
				return err
			}
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(listen) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		utils.Log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Sync.Timeout+10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Address to listen on (default from server.listen)")
}
