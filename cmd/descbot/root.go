package main

import (
	"github.com/spf13/cobra"

	"descbot/internal/config"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	run := newRunCmd(f)
	root := &cobra.Command{
		Use:   "descbot",
		Short: "Rotate a Telegram bot's profile description on a schedule",
		Long: `descbot cycles through a list of texts and pushes each one to the bot's
short description (or description) for its configured duration. Owners
control the rotation with chat commands.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare "descbot" runs the bot.
		RunE: run.RunE,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "./config.json", "path to the config file (json, yaml or toml)")
	root.AddCommand(
		run,
		newValidateCmd(f),
		newExampleCmd(f),
		newStateCmd(f),
		newTokenCmd(),
	)
	return root
}

// loadConfig parses and resolves the config file without validating owners
// or the token, so offline commands work on partial configs.
func loadConfig(path string) (*config.Config, config.Settings, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, config.Settings{}, err
	}
	s, err := config.Resolve(cfg)
	return cfg, s, err
}
