// Package tracing forwards Eino callback events for answer generation to
// Langfuse. Tracing is optional; without keys it is a no-op.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// DefaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// Config holds Langfuse credentials.
type Config struct {
	Host      string // LANGFUSE_HOST
	PublicKey string // LANGFUSE_PUBLIC_KEY
	SecretKey string // LANGFUSE_SECRET_KEY
}

// FromEnv reads the Langfuse settings from the environment.
func FromEnv() Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup builds the Langfuse callback handler. It returns the handler and a
// flush function that must run before process exit so buffered traces are
// sent. When c is not Enabled it returns nil, a no-op flush, and false.
func Setup(c Config) (callbacks.Handler, func(), bool) {
	if !c.Enabled() {
		return nil, func() {}, false
	}
	host := c.Host
	if host == "" {
		host = DefaultHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: c.PublicKey,
		SecretKey: c.SecretKey,
	})
	return handler, flusher, true
}

// Install registers the Langfuse handler globally so every chat model call
// is traced, and returns the flush function. It is a no-op when disabled.
func Install(c Config) (flush func(), enabled bool) {
	handler, flush, ok := Setup(c)
	if ok {
		callbacks.AppendGlobalHandlers(handler)
	}
	return flush, ok
}
