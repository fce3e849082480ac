// Package audit records which CLI command ran and with what configuration,
// so an operator can reconstruct a run from its logs. Secrets are recorded
// as "set" or "unset", never by value.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditEntry is one env var included in the audit record.
type auditEntry struct {
	key string
	// secret redacts the value to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars in every audit record.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", false},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"OPENAI_API_KEY", true},
	{"OPENAI_MODEL", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"GOOGLE_API_KEY", true},
	{"GEMINI_MODEL", false},
	{"AWS_REGION", false},
	{"BEDROCK_MODEL_ID", false},
	{"BEDROCK_API_KEY", true},
	{"JUDGE_PROVIDER", false},
	{"JUDGE_MODEL", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_ENDPOINT", false},
	{"EMBEDDING_API_KEY", true},
	{"RERANKER_PROVIDER", false},
	{"RERANKER_ENDPOINT", false},
	{"RERANKER_API_KEY", true},
	{"QDRANT_HOST", false},
	{"QDRANT_PORT", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"CIVIC_SOURCES", false},
	{"RAG_INITIAL_K", false},
	{"RAG_FINAL_K", false},
	{"TRANSLATE_QUESTIONS", false},
	{"CIVIC_API_KEY", true},
	{"CIVIC_HISTORY_DB", false},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

// extraSecrets are redacted by SanitiseKey but not part of the record.
var extraSecrets = []string{"AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN"}

// secretEnvKeys is derived from auditKeys and extraSecrets.
var secretEnvKeys = func() map[string]bool {
	m := make(map[string]bool, len(auditKeys))
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	for _, k := range extraSecrets {
		m[k] = true
	}
	return m
}()

// LogCommandStart emits one INFO record naming the command, the config file
// it loaded and the sanitised environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", commandAttrs(command, configPath, os.Getenv)...)
}

func commandAttrs(command, configPath string, getenv func(string) string) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, e := range auditKeys {
		attrs = append(attrs, slog.String(e.key, SanitiseKey(e.key, getenv(e.key))))
	}
	return attrs
}

// SanitiseKey returns "set" or "unset" for known secret keys and the value
// (or "unset") for everything else.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	if value == "" {
		return "unset"
	}
	return value
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// sanitiseConfigPath returns the config path with the home directory
// replaced by "~", or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
