// Package profile applies rotation text to the bot profile.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"descbot/internal/ratelimit"
	"descbot/internal/transport"
	"descbot/pkg/logx"
)

// Updater is the update service the rotation runner calls.
type Updater interface {
	Apply(ctx context.Context, text string) error
}

// Setter is the raw Bot API capability, implemented by the telegram adapter.
type Setter interface {
	SetProfileText(ctx context.Context, field, text, lang string) error
}

// Reader is implemented by setters that can also read the live text back.
type Reader interface {
	ProfileText(ctx context.Context, field, lang string) (string, error)
}

// ErrNoReader is returned by Live when the setter cannot read the profile.
var ErrNoReader = errors.New("profile: setter cannot read the live text")

type Config struct {
	Field    string // "short_description" or "description"
	Language string // empty: default for all languages
	MaxWait  time.Duration
}

// Telegram pushes text through a Setter behind the rate limiter.
type Telegram struct {
	setter  Setter
	limiter *ratelimit.Limiter
	field   string
	lang    string
	maxWait atomic.Int64
	log     logx.Logger
}

func NewTelegram(setter Setter, limiter *ratelimit.Limiter, cfg Config, log logx.Logger) *Telegram {
	t := &Telegram{
		setter:  setter,
		limiter: limiter,
		field:   cfg.Field,
		lang:    cfg.Language,
		log:     log.With(logx.Component("profile")),
	}
	t.maxWait.Store(int64(cfg.MaxWait))
	return t
}

// SetMaxWait changes how long Apply will wait on the local limiter.
func (t *Telegram) SetMaxWait(d time.Duration) { t.maxWait.Store(int64(max(0, d))) }

func (t *Telegram) MaxWait() time.Duration { return time.Duration(t.maxWait.Load()) }

func (t *Telegram) Apply(ctx context.Context, text string) error {
	if wait := t.limiter.TimeUntilAllowed(); wait > t.MaxWait() {
		return &RateLimitedError{Seconds: ceilSeconds(wait)}
	}
	waited, err := t.limiter.WaitAndAcquire(ctx)
	if err != nil {
		return err
	}
	if waited > 0 {
		t.log.Debug("waited for rate limiter", logx.Duration("waited", waited))
	}

	err = t.setter.SetProfileText(ctx, t.field, text, t.lang)
	if err == nil {
		return nil
	}
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("set %s: %w", t.field, err)
	}
	switch apiErr.Code {
	case 429:
		secs := max(1, apiErr.RetryAfter)
		t.log.Warn("telegram flood wait", logx.Int("retry_after", secs))
		if err := t.limiter.HandleExternalBackoff(ctx, secs); err != nil {
			return err
		}
		return &BackoffError{Seconds: secs}
	case 401:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Description)
	default:
		return fmt.Errorf("set %s: %w", t.field, err)
	}
}

// Live reads the text the bot profile currently shows for the configured
// field and language. It does not touch the rate limiter.
func (t *Telegram) Live(ctx context.Context) (string, error) {
	r, ok := t.setter.(Reader)
	if !ok {
		return "", ErrNoReader
	}
	text, err := r.ProfileText(ctx, t.field, t.lang)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", t.field, err)
	}
	return text, nil
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
