package session

import (
	"strings"

	"github.com/courier-chat/courier/internal/config"
)

const DefaultSessionName = "main"

// Resolve determines the active session name: the --session flag wins, then
// config.toml's default_session, then "main". A missing or unreadable
// config falls through to the default rather than failing resolution.
func Resolve(flagOverride string) string {
	if name := strings.TrimSpace(flagOverride); name != "" {
		return name
	}
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return DefaultSessionName
	}
	if cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
