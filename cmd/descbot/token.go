package main

import (
	"bufio"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"descbot/internal/config"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the bot token in the OS keyring",
	}
	set := &cobra.Command{
		Use:   "set [token]",
		Short: "Store the bot token (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				if sc.Scan() {
					token = sc.Text()
				}
				if err := sc.Err(); err != nil {
					return err
				}
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("empty token")
			}
			if err := config.StoreToken(token); err != nil {
				printErr(cmd.ErrOrStderr(), "keyring: %v", err)
				return err
			}
			printOK(cmd.OutOrStdout(), "token stored in keyring (service %q)", config.KeyringService)
			return nil
		},
	}
	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the bot token from the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DeleteToken(); err != nil {
				printErr(cmd.ErrOrStderr(), "keyring: %v", err)
				return err
			}
			printOK(cmd.OutOrStdout(), "token removed from keyring")
			return nil
		},
	}
	cmd.AddCommand(set, del)
	return cmd
}
