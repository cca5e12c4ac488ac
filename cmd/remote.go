package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sw33tLie/pbxsched/pkg/apiclient"
	"github.com/sw33tLie/pbxsched/pkg/instance"
)

// remoteCmd drives a pbxsched server over HTTP instead of opening the local
// data directory.
var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running pbxsched server",
}

var remoteSyncCmd = &cobra.Command{
	Use:   "sync <server> <instanceId>",
	Short: "Trigger a sync on the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *apiclient.Client) (interface{}, error) {
			return c.Sync(ctx, args[0], args[1])
		})
	},
}

var remoteVerifyCmd = &cobra.Command{
	Use:   "verify <server> <instanceId>",
	Short: "Ask the server to verify the login of an instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *apiclient.Client) (interface{}, error) {
			return c.Verify(ctx, args[0], args[1])
		})
	},
}

var remoteHealthCmd = &cobra.Command{
	Use:   "health <server> <instanceId>",
	Short: "Show the health record of an instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *apiclient.Client) (interface{}, error) {
			return c.Health(ctx, args[0], args[1])
		})
	},
}

var remoteRegisterCmd = &cobra.Command{
	Use:   "register <server> <url>",
	Short: "Register an instance on the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := instance.Registration{BaseURL: args[1]}
		reg.Username, _ = cmd.Flags().GetString("pbx-user")
		reg.Password, _ = cmd.Flags().GetString("pbx-pass")
		reg.DisplayName, _ = cmd.Flags().GetString("name")
		reg.OTPSecret, _ = cmd.Flags().GetString("otp-secret")
		return withClient(cmd, func(ctx context.Context, c *apiclient.Client) (interface{}, error) {
			return c.Register(ctx, args[0], reg)
		})
	},
}

func withClient(cmd *cobra.Command, call func(context.Context, *apiclient.Client) (interface{}, error)) error {
	user, _ := cmd.Flags().GetString("user")
	pass, _ := cmd.Flags().GetString("pass")
	if user == "" {
		user = viper.GetString("server.username")
	}
	if pass == "" {
		pass = viper.GetString("server.password")
	}
	proxy, _ := cmd.Flags().GetString("proxy")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client, err := apiclient.New(apiclient.Options{
		Username: user,
		Password: pass,
		Proxy:    proxy,
		Timeout:  timeout,
	})
	if err != nil {
		return err
	}
	out, err := call(cmd.Context(), client)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("could not print response: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteSyncCmd, remoteVerifyCmd, remoteHealthCmd, remoteRegisterCmd)

	remoteCmd.PersistentFlags().StringP("user", "u", "", "Basic auth user (default from server.username)")
	remoteCmd.PersistentFlags().StringP("pass", "p", "", "Basic auth password (default from server.password)")
	remoteCmd.PersistentFlags().String("proxy", "", "HTTP proxy URL")
	remoteCmd.PersistentFlags().Duration("timeout", 4*time.Minute, "Per request timeout")

	remoteRegisterCmd.Flags().String("pbx-user", "", "Console username")
	remoteRegisterCmd.Flags().String("pbx-pass", "", "Console password")
	remoteRegisterCmd.Flags().String("name", "", "Display name")
	remoteRegisterCmd.Flags().String("otp-secret", "", "Base32 TOTP secret for the second factor")
}
