package main

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// configKeys are the keys accepted by `config set`, with the variable that
// overrides each one.
var configKeys = [][2]string{
	{"default.token", "ROOMLY_TOKEN"},
	{"default.environment", "ROOMLY_ENVIRONMENT"},
	{"default.base_url", "ROOMLY_BASE_URL"},
	{"default.log_level", "ROOMLY_LOG_LEVEL"},
	{"storage.data_dir", "ROOMLY_DATA_DIR"},
}

var showEffective bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configShowCmd.Flags().BoolVarP(&showEffective, "effective", "e", false, "Apply environment overrides and mask the token")
}

func keysHelp() string {
	var b strings.Builder
	for _, k := range configKeys {
		fmt.Fprintf(&b, "  %-22s %s\n", k[0], k[1])
	}
	return b.String()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Roomly configuration",
	Long: "View or modify ~/.roomly/config.toml. Each key can be overridden by an\n" +
		"environment variable or a .env file in the working directory:\n\n" + keysHelp(),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showEffective {
			cfg, err := loadEffectiveConfig()
			if err != nil {
				return err
			}
			if cfg.Default.Token != "" {
				cfg.Default.Token = maskKey(cfg.Default.Token)
			}
			if jsonOutput {
				return printJSON(cfg)
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			fmt.Println("No configuration file yet. Run 'roomly init <token>' to create one.")
			return nil
		case err != nil:
			return fmt.Errorf("cannot read %s: %w", path, err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set one of the keys below.\n\n" + keysHelp() +
		"\nExample: roomly config set storage.data_dir ~/.roomly/data",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}

		value := args[1]
		if args[0] == "default.token" {
			value = maskKey(value)
		}
		fmt.Printf("%s %s = %s\n", success("Saved"), args[0], value)
		return nil
	},
}
