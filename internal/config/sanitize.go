package config

import "strings"

// Sanitize returns a copy of cfg with secrets masked for logging.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg
	sanitized.Engine.RequiredKeys = append([]string(nil), cfg.Engine.RequiredKeys...)
	if sanitized.Archive.Passphrase != "" {
		sanitized.Archive.Passphrase = maskSecret(sanitized.Archive.Passphrase)
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
