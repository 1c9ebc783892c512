package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/charterhq/charter/internal/orchestrator/config"
	"github.com/charterhq/charter/internal/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the charterd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("charterd " + server.Version)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(configFile); err != nil {
				return fmt.Errorf("loading config file: %w", err)
			}
			if !config.Config().Auth.Enabled {
				return fmt.Errorf("auth is not enabled in the configuration")
			}
			token, err := server.IssueToken(subject)
			if err != nil {
				return fmt.Errorf("minting token: %w", err)
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "charter-client", "subject claim for the token")
	return cmd
}
