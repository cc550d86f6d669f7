package audit

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	for _, k := range []string{"OPENAI_API_KEY", "DOCRAG_API_KEY", "LANGFUSE_SECRET_KEY", "LANGFUSE_PUBLIC_KEY"} {
		if got := SanitiseKey(k, "sk-abc123"); got != "set" {
			t.Errorf("%s: expected 'set', got %q", k, got)
		}
		if got := SanitiseKey(k, ""); got != "unset" {
			t.Errorf("%s: expected 'unset', got %q", k, got)
		}
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("STORE_BACKEND", "qdrant"); got != "qdrant" {
		t.Errorf("expected 'qdrant', got %q", got)
	}
	if got := SanitiseKey("STORE_BACKEND", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := SanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := SanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && home != "/" {
		p := home + "/.docrag/config.yaml"
		if got := SanitiseConfigPath(p); got != "~/.docrag/config.yaml" {
			t.Errorf("expected '~/.docrag/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")
	t.Setenv("STORE_BACKEND", "sqlite")

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "ingest", "")

	out := buf.String()
	if strings.Contains(out, "sk-very-secret") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}
	for _, want := range []string{"command=ingest", "OPENAI_API_KEY=set", "STORE_BACKEND=sqlite", "config_file=none"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %q: %s", want, out)
		}
	}
}

func TestSnapshot_StableOrder(t *testing.T) {
	t.Parallel()
	snap := Snapshot()
	if len(snap) != len(auditKeys) {
		t.Fatalf("snapshot has %d entries, want %d", len(snap), len(auditKeys))
	}
	for i, e := range snap {
		if e.Key != auditKeys[i] {
			t.Errorf("entry %d = %s, want %s", i, e.Key, auditKeys[i])
		}
	}
}
