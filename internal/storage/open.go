package storage

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"descbot/pkg/logx"
)

// Open initializes the configured store. fs backs the file driver; nil
// means the OS filesystem.
func Open(cfg Config, fs afero.Fs, log logx.Logger) (Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(fs, cfg.Path, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "none":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
