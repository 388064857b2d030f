package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	FieldShortDescription = "short_description"
	FieldDescription      = "description"

	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

const (
	DefaultPollTimeout       = 10 * time.Second
	DefaultMinUpdateInterval = 60 * time.Second
	DefaultMaxWait           = 2 * time.Minute
	DefaultCheckInterval     = time.Second
	DefaultOverrideDuration  = time.Hour
	DefaultBusyTimeout       = 5 * time.Second
	DefaultCommandPrefix     = "/"
	DefaultCommandRatePerMin = 20
	DefaultStoragePath       = "./descbot"
	DefaultOpsAddr           = "127.0.0.1:9464"
)

// Settings is Config with defaults applied and durations parsed.
type Settings struct {
	OwnerIDs       []int64
	GroupLogChatID int64
	PollTimeout    time.Duration

	Field             string
	Language          string
	MinUpdateInterval time.Duration
	MaxWait           time.Duration

	DescriptionsPath  string
	CheckInterval     time.Duration
	OverrideDuration  time.Duration
	WatchDescriptions bool

	CommandPrefix     string
	CommandRatePerMin int

	StorageDriver string
	StoragePath   string
	BusyTimeout   time.Duration

	OpsAddr string
}

// Resolve applies defaults and parses every duration. It does not judge
// cross-field rules; Validate does.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config is nil")
	}
	var (
		s    Settings
		errs []error
		err  error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, e := ParseDurationOrDefault(path, raw, def)
		if e != nil {
			errs = append(errs, e)
		}
		return d
	}

	s.OwnerIDs = append([]int64(nil), cfg.Telegram.OwnerUserIDs...)
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		s.GroupLogChatID, err = strconv.ParseInt(g, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: invalid chat id %q", g))
		}
	}
	s.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout)

	s.Field = strings.ToLower(strings.TrimSpace(cfg.Profile.Field))
	if s.Field == "" {
		s.Field = FieldShortDescription
	}
	s.Language = strings.ToLower(strings.TrimSpace(cfg.Profile.Language))
	s.MinUpdateInterval = dur("profile.min_update_interval", cfg.Profile.MinUpdateInterval, DefaultMinUpdateInterval)
	s.MaxWait = dur("profile.max_wait", cfg.Profile.MaxWait, DefaultMaxWait)

	s.DescriptionsPath = strings.TrimSpace(cfg.Rotation.DescriptionsPath)
	s.CheckInterval = dur("rotation.check_interval", cfg.Rotation.CheckInterval, DefaultCheckInterval)
	s.OverrideDuration = dur("rotation.override_duration", cfg.Rotation.OverrideDuration, DefaultOverrideDuration)
	s.WatchDescriptions = cfg.Rotation.WatchDescriptions

	s.CommandPrefix = strings.TrimSpace(cfg.Commands.Prefix)
	if s.CommandPrefix == "" {
		s.CommandPrefix = DefaultCommandPrefix
	}
	s.CommandRatePerMin = cfg.Commands.RatePerMin
	if s.CommandRatePerMin <= 0 {
		s.CommandRatePerMin = DefaultCommandRatePerMin
	}

	s.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if s.StorageDriver == "" {
		s.StorageDriver = DriverFile
	}
	s.StoragePath = strings.TrimSpace(cfg.Storage.Path)
	if s.StoragePath == "" {
		s.StoragePath = DefaultStoragePath
	}
	s.BusyTimeout = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, DefaultBusyTimeout)

	s.OpsAddr = strings.TrimSpace(cfg.Ops.Addr)
	if s.OpsAddr == "" {
		s.OpsAddr = DefaultOpsAddr
	}
	return s, errors.Join(errs...)
}

// Validate checks a parsed config. It returns every problem found, joined.
func Validate(cfg *Config) error {
	s, err := Resolve(cfg)
	errs := []error{err}

	if len(s.OwnerIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids: at least one owner is required"))
	}
	for _, id := range s.OwnerIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.owner_user_ids: invalid user id %d", id))
		}
	}
	if s.Field != FieldShortDescription && s.Field != FieldDescription {
		errs = append(errs, fmt.Errorf("profile.field: must be %q or %q, got %q", FieldShortDescription, FieldDescription, s.Field))
	}
	if s.Language != "" && !isLanguageCode(s.Language) {
		errs = append(errs, fmt.Errorf("profile.language: want a two-letter code, got %q", s.Language))
	}
	if s.DescriptionsPath == "" {
		errs = append(errs, errors.New("rotation.descriptions_path is required"))
	}
	if strings.ContainsAny(s.CommandPrefix, " \t\n") {
		errs = append(errs, errors.New("commands.prefix must not contain whitespace"))
	}
	switch s.StorageDriver {
	case DriverFile, DriverSQLite, DriverNone:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.StorageDriver))
	}

	seen := map[string]bool{}
	for i, e := range cfg.Schedule {
		name := strings.TrimSpace(e.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("schedule[%d]: name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("schedule[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(e.Spec) == "" {
			errs = append(errs, fmt.Errorf("schedule[%d]: spec is required", i))
		}
		if strings.TrimSpace(e.Command) == "" {
			errs = append(errs, fmt.Errorf("schedule[%d]: command is required", i))
		}
	}

	if cfg != nil && cfg.Ops.Enabled && !cfg.Ops.AllowInsecure && strings.TrimSpace(cfg.Ops.Token) == "" && !IsLoopbackAddr(s.OpsAddr) {
		errs = append(errs, fmt.Errorf("ops.addr %q is not loopback: set ops.token or ops.allow_insecure", s.OpsAddr))
	}
	return errors.Join(errs...)
}

func isLanguageCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// IsLoopbackAddr reports whether host:port binds to a loopback interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
