package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igrelay/pkg/auth"
	"igrelay/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage igrelay configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IGRELAY_*, TELEGRAM_TOKEN, .env)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	Long: `Write a configuration file containing every option at its default value.

The file is created as '.igrelay.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging all sources. Secrets are masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".igrelay.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✅ Configuration file created: "+path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Set telegram.token, or export TELEGRAM_TOKEN")
	fmt.Fprintln(out, "2. Add your Telegram user ID to access.admin_ids")
	fmt.Fprintln(out, "3. Start the bot with 'igrelay run'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, map[string]interface{}{"log-level": logLevel})
	if err != nil {
		return err
	}

	display := *cfg
	display.Telegram.Token = mask(display.Telegram.Token)
	display.Instagram.SessionID = mask(display.Instagram.SessionID)
	display.Instagram.CSRFToken = mask(display.Instagram.CSRFToken)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return auth.SanitizeAccount(&auth.Account{SessionID: secret}).SessionID
}
