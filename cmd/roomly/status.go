package main

import (
	"context"
	"fmt"
	"time"

	roomly "github.com/roomly-app/roomly/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration, check whether the token is expired, and try the live push channel.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Environment: %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL:    %s\n", cfg.Default.BaseURL)
		}
		fmt.Printf("  Data dir:    %s\n", valueOrDefault(cfg.Storage.DataDir, "(memory only)"))
		if cfg.Default.Token == "" {
			fmt.Println("  Token:       (not set)")
			return nil
		}
		fmt.Printf("  Token:       %s\n", maskKey(cfg.Default.Token))

		now := time.Now()
		creds := roomly.ParseCredentials(cfg.Default.Token)
		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  User:        %s\n", valueOrDefault(creds.Subject, "(opaque token)"))
		switch err := creds.Validate(now); {
		case err != nil:
			fmt.Printf("  Status:      %s\n", failure(err.Error()))
			return nil
		case creds.ExpiresAt.IsZero():
			fmt.Println("  Status:      present (no expiry)")
		default:
			fmt.Printf("  Status:      %s (expires in %s)\n", success("valid"), creds.ExpiresIn(now).Round(time.Second))
		}

		return withSession(func(s *settings, session *roomly.Session) error {
			fmt.Println()
			fmt.Println("Live status:")
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			if err := session.Activate(ctx, s.creds); err != nil {
				fmt.Printf("  Channel:     %s\n", failure(err.Error()))
				return nil
			}
			fmt.Printf("  Channel:     %s\n", success(string(session.Channel().State())))
			fmt.Printf("  Topics:      %v\n", session.Channel().LiveTopics())
			return nil
		})
	},
}
