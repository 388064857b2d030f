package main

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"descbot/internal/commands"
	"descbot/internal/config"
	"descbot/internal/descriptions"
)

func newValidateCmd(f *rootFlags) *cobra.Command {
	var (
		verbose bool
		field   string
	)
	cmd := &cobra.Command{
		Use:   "validate [descriptions-file]",
		Short: "Check a descriptions file",
		Long: `Check every entry of a descriptions file. Without an argument the file
named by rotation.descriptions_path in the config is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" || field == "" {
				_, s, err := loadConfig(f.configPath)
				switch {
				case err == nil:
					if path == "" {
						path = s.DescriptionsPath
					}
					if field == "" {
						field = s.Field
					}
				case path == "":
					return fmt.Errorf("no file given and config unreadable: %w", err)
				}
			}
			if path == "" {
				return errors.New("no descriptions file given")
			}
			return validateFile(cmd, afero.NewOsFs(), path, field, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every entry")
	cmd.Flags().StringVar(&field, "field", "", `profile field the texts are for ("short_description" or "description")`)
	return cmd
}

func validateFile(cmd *cobra.Command, fsys afero.Fs, path, field string, verbose bool) error {
	out := cmd.OutOrStdout()
	if field == "" {
		field = config.FieldShortDescription
	}
	limit := descriptions.LimitFor(field)

	file, err := descriptions.Load(fsys, path)
	if err != nil {
		printErr(out, "%v", err)
		return err
	}
	list := file.Descriptions
	if len(list) == 0 {
		printErr(out, "%s: %v", path, descriptions.ErrNoDescriptions)
		return descriptions.ErrNoDescriptions
	}

	fmt.Fprintln(out, titleStyle.Render(path)+" "+mutedStyle.Render(fmt.Sprintf("(%s, max %d chars)", field, limit)))
	results := descriptions.ValidateAll(list, limit)
	bad := 0
	for i, err := range results {
		d := list[i]
		if err != nil {
			bad++
			printErr(out, "%v", err)
			continue
		}
		if verbose {
			printOK(out, "%d. [%s] %s %s", i+1, d.ID, commands.FormatDuration(d.DurationSecs),
				mutedStyle.Render(fmt.Sprintf("(%d chars)", descriptions.Length(d.Text))))
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d descriptions invalid", bad, len(list))
	}
	printOK(out, "%d descriptions valid", len(list))
	return nil
}
