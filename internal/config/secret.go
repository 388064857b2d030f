package config

import (
	"errors"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	TokenEnv       = "DESCBOT_TELEGRAM_TOKEN"
	KeyringService = "descbot"
	KeyringUser    = "telegram_token"
)

// ErrNoToken means no source provided a bot token.
var ErrNoToken = errors.New("telegram token not configured (config, " + TokenEnv + " or keyring)")

// TokenSource names where ResolveToken found the token.
type TokenSource string

const (
	TokenFromConfig  TokenSource = "config"
	TokenFromEnv     TokenSource = "env"
	TokenFromKeyring TokenSource = "keyring"
)

// ResolveToken returns the bot token from the config file, then the
// environment, then the OS keyring.
func ResolveToken(cfg *Config) (string, TokenSource, error) {
	if cfg != nil {
		if t := strings.TrimSpace(cfg.Telegram.Token); t != "" {
			return t, TokenFromConfig, nil
		}
	}
	if t := strings.TrimSpace(os.Getenv(TokenEnv)); t != "" {
		return t, TokenFromEnv, nil
	}
	t, err := keyring.Get(KeyringService, KeyringUser)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", "", ErrNoToken
	case err != nil:
		return "", "", errors.Join(ErrNoToken, err)
	}
	if t = strings.TrimSpace(t); t == "" {
		return "", "", ErrNoToken
	}
	return t, TokenFromKeyring, nil
}

// StoreToken saves the token in the OS keyring.
func StoreToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	return keyring.Set(KeyringService, KeyringUser, token)
}

// DeleteToken removes the keyring entry. A missing entry is not an error.
func DeleteToken() error {
	if err := keyring.Delete(KeyringService, KeyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
