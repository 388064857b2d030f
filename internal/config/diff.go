package config

import (
	"reflect"
	"strings"

	"descbot/pkg/logx"
)

// Change summarizes the difference between two configs.
//
// Changed lists the sections that differ. Fields are safe to log (tokens are
// reduced to "set" flags). RestartRequired lists keys that changed but are
// only read at startup.
type Change struct {
	Changed         []string
	Fields          []logx.Field
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Changed) == 0 }

func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change
	mark := func(section string, fields ...logx.Field) {
		c.Changed = append(c.Changed, section)
		c.Fields = append(c.Fields, fields...)
	}
	restart := func(key string, changed bool) {
		if changed {
			c.RestartRequired = append(c.RestartRequired, key)
		}
	}
	trimNE := func(a, b string) bool { return strings.TrimSpace(a) != strings.TrimSpace(b) }

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if !reflect.DeepEqual(ot, nt) {
		mark("telegram",
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
		)
		restart("telegram.token", trimNE(ot.Token, nt.Token))
		restart("telegram.poll_timeout", trimNE(ot.PollTimeout, nt.PollTimeout))
	}

	op, np := oldCfg.Profile, newCfg.Profile
	if op != np {
		mark("profile",
			logx.String("profile.field", np.Field),
			logx.String("profile.min_update_interval", np.MinUpdateInterval),
			logx.String("profile.max_wait", np.MaxWait),
		)
		restart("profile.field", trimNE(op.Field, np.Field))
		restart("profile.language", trimNE(op.Language, np.Language))
	}

	if oldCfg.Rotation != newCfg.Rotation {
		mark("rotation", logx.String("rotation.descriptions_path", newCfg.Rotation.DescriptionsPath))
		c.RestartRequired = append(c.RestartRequired, "rotation")
	}

	oc, nc := oldCfg.Commands, newCfg.Commands
	if oc != nc {
		mark("commands", logx.Int("commands.rate_per_min", nc.RatePerMin))
		restart("commands.prefix", trimNE(oc.Prefix, nc.Prefix))
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		mark("schedule", logx.Int("schedule.entries", len(newCfg.Schedule)))
	}

	if oldCfg.Logging != newCfg.Logging {
		nl := newCfg.Logging
		mark("logging",
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
		c.RestartRequired = append(c.RestartRequired, "storage")
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo != no {
		mark("ops",
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", no.Addr),
			logx.Bool("ops.token_set", strings.TrimSpace(no.Token) != ""),
			logx.Bool("ops.pprof", no.Pprof),
		)
	}
	return c
}
