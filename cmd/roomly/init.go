package main

import (
	"fmt"
	"time"

	roomly "github.com/roomly-app/roomly/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store the access token in ~/.roomly/config.toml",
	Long:  "Initialize the Roomly CLI by storing your access token in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds := roomly.ParseCredentials(args[0])
		if err := creds.Validate(time.Now()); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.Token = creds.Token
		if cfg.Default.Environment == "" {
			cfg.Default.Environment = string(roomly.Production)
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		if creds.Subject != "" {
			fmt.Printf("Signed in as %s\n", creds.Subject)
		}
		return nil
	},
}
