package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"photosync/auth"
	"photosync/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize access to the library and cache the token",
	Long: `Runs the browser consent flow and stores the resulting token, so that later
sync runs can start unattended. An existing cached token is replaced.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		provider, err := auth.NewProvider(e.cfg.CredentialsFile, e.cfg.TokenFile, e.log)
		if err != nil {
			return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		provider.Prompt = cmd.ErrOrStderr()

		ctx, cancel := signalContext(cmd.Context(), cmd.ErrOrStderr())
		defer cancel()

		if _, err := provider.Login(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", e.cfg.TokenFile)
		return nil
	},
}

func init() {
	d := config.DefaultConfig()
	loginCmd.Flags().String("credentials-file", d.CredentialsFile, "OAuth client secrets file")
	loginCmd.Flags().String("token-file", d.TokenFile, "cached OAuth token")
	rootCmd.AddCommand(loginCmd)
}
