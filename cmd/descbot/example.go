package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"descbot/internal/descriptions"
)

func newExampleCmd(f *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "example [path]",
		Short: "Write an example descriptions file",
		Long: `Write a starter descriptions file. The format follows the extension
(.json, .yaml, .yml or .toml). Without an argument the config's
rotation.descriptions_path is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "./descriptions.json"
			if len(args) == 1 {
				path = args[0]
			} else if _, s, err := loadConfig(f.configPath); err == nil && s.DescriptionsPath != "" {
				path = s.DescriptionsPath
			}
			if err := descriptions.WriteExample(afero.NewOsFs(), path, force); err != nil {
				printErr(cmd.ErrOrStderr(), "%v (use --force to overwrite)", err)
				return err
			}
			printOK(cmd.OutOrStdout(), "wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
