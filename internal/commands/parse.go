// Package commands turns owner chat messages into rotation operations.
package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

type Kind int

const (
	KindSkip Kind = iota + 1
	KindNext
	KindStatus
	KindList
	KindView
	KindGoto
	KindPause
	KindResume
	KindReload
	KindHelp
	KindSet
	KindClear
	KindAdd
	KindEdit
	KindDuration
	KindDelete
	KindInfo
)

type argShape int

const (
	argsNone argShape = iota
	argsTarget
	argsText
	argsAdd
	argsEdit
	argsDuration
)

type commandSpec struct {
	kind    Kind
	name    string
	aliases []string
	args    argShape
	usage   string
	help    string
}

var specs = []commandSpec{
	{KindSkip, "skip", nil, argsNone, "skip", "Re-apply the current description and restart its timer"},
	{KindNext, "next", nil, argsNone, "next", "Jump to the following description"},
	{KindStatus, "status", []string{"stat", "s"}, argsNone, "status", "Show rotation status"},
	{KindList, "list", []string{"ls", "l"}, argsNone, "list", "List all descriptions"},
	{KindView, "view", []string{"show"}, argsTarget, "view <id|n>", "Show one description"},
	{KindGoto, "goto", []string{"go", "jump"}, argsTarget, "goto <id|n>", "Jump to a description"},
	{KindPause, "pause", []string{"stop"}, argsNone, "pause", "Pause rotation"},
	{KindResume, "resume", []string{"start", "continue"}, argsNone, "resume", "Resume rotation"},
	{KindReload, "reload", []string{"refresh"}, argsNone, "reload", "Reload the description file"},
	{KindHelp, "help", []string{"h", "?"}, argsNone, "help", "Show this help"},
	{KindSet, "set", nil, argsText, "set <text>", "Show a one-off text until its timer ends"},
	{KindClear, "clear", nil, argsNone, "clear", "Drop a pending one-off text"},
	{KindAdd, "add", []string{"new"}, argsAdd, "add <id> <secs> <text>", "Add a description"},
	{KindEdit, "edit", []string{"change"}, argsEdit, "edit <id> <text>", "Change a description's text"},
	{KindDuration, "duration", []string{"time"}, argsDuration, "duration <id> <secs>", "Change a description's duration"},
	{KindDelete, "delete", []string{"remove", "rm", "del"}, argsTarget, "delete <id>", "Delete a description"},
	{KindInfo, "info", []string{"about", "version"}, argsNone, "info", "About this bot"},
}

var byWord = func() map[string]*commandSpec {
	m := make(map[string]*commandSpec, len(specs)*3)
	for i := range specs {
		s := &specs[i]
		m[s.name] = s
		for _, a := range s.aliases {
			m[a] = s
		}
	}
	return m
}()

var (
	// ErrNotCommand means the message is not addressed to us as a command.
	ErrNotCommand = errors.New("not a command")
	ErrUnknown    = errors.New("unknown command")
)

// UsageError is a known command with missing or malformed arguments.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return "usage: " + e.Usage }

// Command is a parsed owner command.
type Command struct {
	Kind   Kind
	Name   string // canonical name, or the unknown word
	Args   string // raw argument text
	Target string // view, goto, delete, edit, duration
	Text   string // set, add, edit
	Secs   int64  // add, duration
}

// Parse reads "<prefix><word> [args]". A "@username" suffix on the word is
// accepted when it names this bot.
func Parse(text, prefix, botUsername string) (Command, error) {
	if prefix == "" {
		prefix = "/"
	}
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, prefix) {
		return Command{}, ErrNotCommand
	}
	word, args := nextField(strings.TrimLeftFunc(text[len(prefix):], unicode.IsSpace))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		if botUsername != "" && !strings.EqualFold(word[i+1:], botUsername) {
			return Command{}, ErrNotCommand
		}
		word = word[:i]
	}
	if word == "" {
		return Command{}, ErrNotCommand
	}
	word = strings.ToLower(word)
	spec, ok := byWord[word]
	if !ok {
		return Command{Name: word}, ErrUnknown
	}

	cmd := Command{Kind: spec.kind, Name: spec.name, Args: args}
	usage := &UsageError{Usage: prefix + spec.usage}
	switch spec.args {
	case argsTarget:
		if args == "" {
			return cmd, usage
		}
		cmd.Target = args
	case argsText:
		if args == "" {
			return cmd, usage
		}
		cmd.Text = args
	case argsAdd:
		id, rest := nextField(args)
		secs, rest := nextField(rest)
		n, err := parseSeconds(secs)
		if id == "" || rest == "" || err != nil {
			return cmd, usage
		}
		cmd.Target, cmd.Secs, cmd.Text = id, n, rest
	case argsEdit:
		id, rest := nextField(args)
		if id == "" || rest == "" {
			return cmd, usage
		}
		cmd.Target, cmd.Text = id, rest
	case argsDuration:
		id, rest := nextField(args)
		secs, _ := nextField(rest)
		n, err := parseSeconds(secs)
		if id == "" || err != nil {
			return cmd, usage
		}
		cmd.Target, cmd.Secs = id, n
	}
	return cmd, nil
}

// nextField splits off the first whitespace-separated field.
func nextField(s string) (field, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// parseSeconds accepts a plain number of seconds or a Go duration ("90m").
func parseSeconds(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("missing duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return int64(d / time.Second), nil
}
