package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "descbot/internal/transport"
)

const (
	FieldShortDescription = "short_description"
	FieldDescription      = "description"
)

// SetProfileText sets the bot's short description or description.
// Server-side failures come back as *kit.APIError.
func (a *Adapter) SetProfileText(ctx context.Context, field, text, lang string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var method string
	var err error
	switch field {
	case FieldShortDescription:
		method = "setMyShortDescription"
		err = a.bot.SetMyShortDescription(text, lang)
	case FieldDescription:
		method = "setMyDescription"
		err = a.bot.SetMyDescription(text, lang)
	default:
		return fmt.Errorf("unknown profile field %q", field)
	}
	return a.apiError(method, err)
}

// ProfileText reads the bot's current short description or description.
func (a *Adapter) ProfileText(ctx context.Context, field, lang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch field {
	case FieldShortDescription:
		info, err := a.bot.MyShortDescription(lang)
		if err != nil {
			return "", a.apiError("getMyShortDescription", err)
		}
		if info == nil {
			return "", nil
		}
		return info.ShortDescription, nil
	case FieldDescription:
		info, err := a.bot.MyDescription(lang)
		if err != nil {
			return "", a.apiError("getMyDescription", err)
		}
		if info == nil {
			return "", nil
		}
		return info.Description, nil
	default:
		return "", fmt.Errorf("unknown profile field %q", field)
	}
}

// apiError turns a telebot error into *kit.APIError so callers can act on
// the code and retry_after. Transport errors are returned with the token
// scrubbed.
func (a *Adapter) apiError(method string, err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.APIError{Method: method, Code: 429, RetryAfter: flood.RetryAfter, Description: flood.Error()}
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return &kit.APIError{Method: method, Code: te.Code, Description: te.Description}
	}
	if desc, code, ok := parseAPIFailure(err.Error()); ok {
		return &kit.APIError{Method: method, Code: code, Description: desc}
	}
	return fmt.Errorf("telegram %s: %w", method, redact(err, a.cfg.Token))
}

// parseAPIFailure reads the "telegram: <description> (<code>)" form that
// telebot uses for server errors it has no typed value for.
func parseAPIFailure(s string) (desc string, code int, ok bool) {
	rest, found := strings.CutPrefix(s, "telegram: ")
	if !found || !strings.HasSuffix(rest, ")") {
		return "", 0, false
	}
	i := strings.LastIndex(rest, " (")
	if i < 0 {
		return "", 0, false
	}
	code, err := strconv.Atoi(rest[i+2 : len(rest)-1])
	if err != nil || code == 0 {
		return "", 0, false
	}
	return rest[:i], code, true
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redact hides the bot token, which telebot embeds in request URLs.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}
