package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"descbot/internal/storage"
	"descbot/pkg/logx"
)

func newStateCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the persisted rotation state",
	}
	cmd.AddCommand(newStateShowCmd(f), newStateResetCmd(f))
	return cmd
}

func openStore(configPath string) (storage.Store, error) {
	_, s, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      s.StorageDriver,
		Path:        s.StoragePath,
		BusyTimeout: s.BusyTimeout,
	}, nil, logx.Nop())
}

func newStateShowCmd(f *rootFlags) *cobra.Command {
	var audit int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored state and recent command audit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(f.configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return showState(cmd, store, audit)
		},
	}
	cmd.Flags().IntVar(&audit, "audit", 0, "also print the last N audited commands")
	return cmd
}

func showState(cmd *cobra.Command, store storage.Store, audit int) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	st, found, err := store.LoadState(ctx)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(out, mutedStyle.Render("no stored state (defaults apply)"))
	}

	status := okStyle.Render("running")
	if st.IsPaused {
		status = errStyle.Render("paused")
	}
	deadline := "none"
	if st.DeadlineUnix != nil {
		t := time.Unix(*st.DeadlineUnix, 0)
		deadline = t.Format(time.RFC3339)
		if rem := time.Until(t); rem > 0 {
			deadline += mutedStyle.Render(" (in " + rem.Truncate(time.Second).String() + ")")
		} else {
			deadline += mutedStyle.Render(" (due)")
		}
	}
	override := "none"
	if st.PendingOverride != nil {
		override = strconv.Quote(*st.PendingOverride)
	}
	fmt.Fprintln(out, panelStyle.Render(kv(
		[2]string{"status", status},
		[2]string{"index", strconv.Itoa(st.CurrentIndex + 1)},
		[2]string{"deadline", deadline},
		[2]string{"override", override},
	)))

	if audit <= 0 {
		return nil
	}
	entries, err := store.RecentAudit(ctx, audit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, titleStyle.Render("recent commands"))
	if len(entries) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("  none"))
	}
	for _, e := range entries {
		actor := e.ActorUsername
		if actor == "" {
			actor = strconv.FormatInt(e.ActorID, 10)
		}
		line := fmt.Sprintf("%s %s %s %s", e.At.Local().Format("2006-01-02 15:04:05"), actor, e.Command, e.Args)
		if e.OK {
			printOK(out, "%s", line)
		} else {
			printErr(out, "%s %s", line, mutedStyle.Render(e.Error))
		}
	}
	return nil
}

func newStateResetCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the stored state to defaults (stop the bot first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(f.configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := store.SaveState(ctx, storage.State{}); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "state reset")
			return nil
		},
	}
}
