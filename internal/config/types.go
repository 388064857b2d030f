package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "1m", "2h") and are parsed by Resolve.
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Profile  ProfileConfig   `json:"profile"`
	Rotation RotationConfig  `json:"rotation"`
	Commands CommandsConfig  `json:"commands"`
	Schedule []ScheduleEntry `json:"schedule,omitempty"`
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage"`
	Ops      OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	// Token may be empty here; it is then taken from DESCBOT_TELEGRAM_TOKEN
	// or the OS keyring.
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log,omitempty"` // chat id for the log sink
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// ProfileConfig selects which bot profile field is rotated.
type ProfileConfig struct {
	Field             string `json:"field,omitempty"`    // "short_description" (default) or "description"
	Language          string `json:"language,omitempty"` // two-letter code, empty for default
	MinUpdateInterval string `json:"min_update_interval,omitempty"`
	MaxWait           string `json:"max_wait,omitempty"`
}

type RotationConfig struct {
	DescriptionsPath  string `json:"descriptions_path"`
	CheckInterval     string `json:"check_interval,omitempty"`
	OverrideDuration  string `json:"override_duration,omitempty"`
	WatchDescriptions bool   `json:"watch_descriptions,omitempty"`
}

type CommandsConfig struct {
	Prefix     string `json:"prefix,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

// ScheduleEntry runs an owner command on a cron spec or a fixed interval.
//
//	{"name": "night", "spec": "0 23 * * *", "command": "pause"}
//	{"name": "nudge", "spec": "every:6h", "command": "skip"}
type ScheduleEntry struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
//	"storage": { "driver": "file", "path": "./descbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// OpsConfig controls the metrics/health HTTP server.
//
// Prefer a loopback address. A non-loopback address needs a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
