// Package descriptions holds the ordered list of profile texts the rotation
// cycles through, backed by a JSON, YAML or TOML file.
package descriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"

	"descbot/internal/config"
	"descbot/internal/storage"
	"descbot/pkg/logx"
)

type Description struct {
	ID           string `json:"id" yaml:"id" toml:"id"`
	Text         string `json:"text" yaml:"text" toml:"text"`
	DurationSecs int64  `json:"duration_secs" yaml:"duration_secs" toml:"duration_secs"`
}

func (d Description) Duration() time.Duration { return time.Duration(d.DurationSecs) * time.Second }

// File is the on-disk document.
type File struct {
	Descriptions []Description `json:"descriptions" yaml:"descriptions" toml:"descriptions"`
}

// Catalog is the in-memory description list. Structural edits are saved to
// disk and rolled back in memory when the save fails.
type Catalog struct {
	fs    afero.Fs
	path  string
	limit int

	mu    sync.RWMutex
	items []Description
	hash  uint64
}

// Open loads and validates path. An empty list is accepted; the rotation
// then has nothing to do.
func Open(fsys afero.Fs, path string, limit int) (*Catalog, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	c := &Catalog{fs: fsys, path: path, limit: limit}
	items, h, err := c.read()
	if err != nil {
		return nil, err
	}
	c.items, c.hash = items, h
	return c, nil
}

func (c *Catalog) Path() string { return c.path }

func (c *Catalog) Limit() int { return c.limit }

// Load decodes a description file without validating it.
func Load(fsys afero.Fs, path string) (File, error) {
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		return File{}, err
	}
	return decode(path, b)
}

func decode(path string, b []byte) (File, error) {
	jb, _, err := config.CoerceToJSON(path, b)
	if err != nil {
		return File{}, err
	}
	var f File
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}

func (c *Catalog) read() ([]Description, uint64, error) {
	b, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return nil, 0, err
	}
	f, err := decode(c.path, b)
	if err != nil {
		return nil, 0, err
	}
	if err := ValidateEntries(f.Descriptions, c.limit); err != nil {
		return nil, 0, fmt.Errorf("validate %s: %w", c.path, err)
	}
	return f.Descriptions, hashBytes(b), nil
}

// saveLocked writes items to disk. Caller holds the write lock.
func (c *Catalog) saveLocked(items []Description) error {
	b, err := config.Encode(c.path, File{Descriptions: items})
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(c.fs, c.path, b, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", c.path, err)
	}
	c.hash = hashBytes(b)
	return nil
}

func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the entry at index i.
func (c *Catalog) Get(i int) (Description, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.items) {
		return Description{}, false
	}
	return c.items[i], true
}

// List returns a copy of all entries.
func (c *Catalog) List() []Description {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Find resolves target as an id first, then as a 1-based position.
func (c *Catalog) Find(target string) (int, Description, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.findLocked(target)
	if i < 0 {
		return -1, Description{}, fmt.Errorf("%w: %q", ErrNotFound, target)
	}
	return i, c.items[i], nil
}

func (c *Catalog) findLocked(target string) int {
	if i := slices.IndexFunc(c.items, func(d Description) bool { return d.ID == target }); i >= 0 {
		return i
	}
	if n, err := strconv.Atoi(target); err == nil && n >= 1 && n <= len(c.items) {
		return n - 1
	}
	return -1
}

// Add appends a new entry and saves.
func (c *Catalog) Add(d Description) error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if d.DurationSecs <= 0 {
		return errors.New("duration must be greater than 0 seconds")
	}
	if err := ValidateText(d.Text, c.limit); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.ContainsFunc(c.items, func(x Description) bool { return x.ID == d.ID }) {
		return fmt.Errorf("description %q already exists", d.ID)
	}
	next := append(slices.Clone(c.items), d)
	if err := c.saveLocked(next); err != nil {
		return err
	}
	c.items = next
	return nil
}

// Edit replaces the text of an entry and returns the old text.
func (c *Catalog) Edit(target, text string) (Description, string, error) {
	if err := ValidateText(text, c.limit); err != nil {
		return Description{}, "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.findLocked(target)
	if i < 0 {
		return Description{}, "", fmt.Errorf("%w: %q", ErrNotFound, target)
	}
	old := c.items[i].Text
	c.items[i].Text = text
	if err := c.saveLocked(c.items); err != nil {
		c.items[i].Text = old
		return Description{}, "", err
	}
	return c.items[i], old, nil
}

// SetDuration changes an entry's duration and returns the old one.
func (c *Catalog) SetDuration(target string, secs int64) (Description, int64, error) {
	if secs <= 0 {
		return Description{}, 0, errors.New("duration must be greater than 0 seconds")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.findLocked(target)
	if i < 0 {
		return Description{}, 0, fmt.Errorf("%w: %q", ErrNotFound, target)
	}
	old := c.items[i].DurationSecs
	c.items[i].DurationSecs = secs
	if err := c.saveLocked(c.items); err != nil {
		c.items[i].DurationSecs = old
		return Description{}, 0, err
	}
	return c.items[i], old, nil
}

// Delete removes an entry and returns its former index. Deleting the last
// entry is allowed.
func (c *Catalog) Delete(target string) (int, Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.findLocked(target)
	if i < 0 {
		return -1, Description{}, fmt.Errorf("%w: %q", ErrNotFound, target)
	}
	removed := c.items[i]
	next := slices.Delete(slices.Clone(c.items), i, i+1)
	if err := c.saveLocked(next); err != nil {
		return -1, Description{}, err
	}
	c.items = next
	return i, removed, nil
}

// Reload re-reads the file. The new list is validated before it replaces
// the old one. changed is false when the file content is unchanged.
func (c *Catalog) Reload() (oldCount, newCount int, changed bool, err error) {
	items, h, err := c.read()
	c.mu.Lock()
	defer c.mu.Unlock()
	oldCount = len(c.items)
	if err != nil {
		return oldCount, oldCount, false, err
	}
	if h == c.hash {
		return oldCount, oldCount, false, nil
	}
	c.items, c.hash = items, h
	return oldCount, len(items), true, nil
}

// Watch reloads on file change and calls onReload after each successful
// reload that changed the list.
func (c *Catalog) Watch(ctx context.Context, log logx.Logger, onReload func(oldCount, newCount int)) error {
	return config.WatchFile(ctx, c.path, log, func() {
		oldN, newN, changed, err := c.Reload()
		switch {
		case err != nil:
			log.Warn("descriptions reload failed", logx.String("path", c.path), logx.Err(err))
		case changed:
			log.Info("descriptions reloaded", logx.Int("old_count", oldN), logx.Int("new_count", newN))
			if onReload != nil {
				onReload(oldN, newN)
			}
		}
	})
}

// Example is a small starter catalog.
func Example() File {
	return File{Descriptions: []Description{
		{ID: "morning", Text: "☀️ Good morning! Ready for a new day", DurationSecs: 3600},
		{ID: "working", Text: "💻 Currently working...", DurationSecs: 7200},
		{ID: "evening", Text: "🌙 Relaxing in the evening", DurationSecs: 3600},
	}}
}

// WriteExample writes Example to path in the format its extension selects.
// An existing file is only replaced when force is set.
func WriteExample(fsys afero.Fs, path string, force bool) error {
	if !force {
		if _, err := fsys.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	b, err := config.Encode(path, Example())
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(fsys, path, b, 0o644)
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
