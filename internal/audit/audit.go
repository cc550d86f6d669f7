// Package audit records what a docrag command ran with: command name,
// config file, and the effective environment. Secrets are reported as
// "set" or "unset", never by value.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Entry is one audited environment variable with its sanitised value.
type Entry struct {
	Key   string
	Value string
}

// auditKeys is the ordered list of env vars included in every audit record.
var auditKeys = []string{
	"MODEL_PROVIDER",
	"OLLAMA_HOST",
	"OLLAMA_MODEL",
	"OPENAI_API_KEY",
	"OPENAI_MODEL",
	"OPENAI_BASE_URL",
	"AZURE_OPENAI_API_KEY",
	"AZURE_OPENAI_ENDPOINT",
	"AZURE_OPENAI_DEPLOYMENT",
	"ARK_API_KEY",
	"ARK_MODEL",
	"GOOGLE_API_KEY",
	"GEMINI_MODEL",
	"EMBEDDING_PROVIDER",
	"EMBEDDING_MODEL",
	"EMBEDDING_DIMENSIONS",
	"EMBEDDING_API_KEY",
	"CHUNK_SIZE",
	"CHUNK_OVERLAP",
	"STORE_BACKEND",
	"STORE_PATH",
	"RETRIEVAL_DEFAULT_LIMIT",
	"RETRIEVAL_MAX_LIMIT",
	"QDRANT_HOST",
	"QDRANT_PORT",
	"QDRANT_COLLECTION",
	"QDRANT_API_KEY",
	"DOCRAG_API_KEY",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"LANGFUSE_PUBLIC_KEY",
	"LANGFUSE_SECRET_KEY",
}

// secretSuffixes mark env vars whose values must never be logged.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN", "_PASSWORD"}

// IsSecret reports whether key names a credential.
func IsSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// SanitiseKey returns "set" or "unset" for secret keys, or the value
// (or "unset") for everything else.
func SanitiseKey(key, value string) string {
	if IsSecret(key) {
		return presence(value)
	}
	return valOrUnset(value)
}

// Snapshot returns the sanitised audited environment in a stable order.
func Snapshot() []Entry {
	out := make([]Entry, 0, len(auditKeys))
	for _, k := range auditKeys {
		out = append(out, Entry{Key: k, Value: SanitiseKey(k, os.Getenv(k))})
	}
	return out
}

// LogCommandStart emits an audit record when a CLI command begins.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", SanitiseConfigPath(configPath)),
	}
	for _, e := range Snapshot() {
		attrs = append(attrs, slog.String(e.Key, e.Value))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// LogIngest emits an audit record for a completed ingest.
func LogIngest(ctx context.Context, log *slog.Logger, origin, source string, chunks int) {
	log.LogAttrs(ctx, slog.LevelInfo, "audit: document ingested",
		slog.String("origin", origin),
		slog.String("source", source),
		slog.Int("chunks", chunks),
	)
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// SanitiseConfigPath returns the config path with the home directory
// abbreviated to "~", or "none" if empty.
func SanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
