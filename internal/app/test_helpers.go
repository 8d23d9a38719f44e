package app

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/specialistvlad/cdflow/internal/hcl"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// RunAppTest runs one command against a fresh App with debug logging and
// returns its output and logs. Set CDFLOW_TEST_LOGS=true to print the logs.
func RunAppTest(t *testing.T, cfg Config) (string, string, error) {
	t.Helper()

	cfg.LogLevel = "debug"
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.StatePath == "" {
		cfg.StatePath = t.TempDir() + "/state.db"
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = t.TempDir()
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	valid, err := NewConfig(cfg)
	if err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	out, logs := &SafeBuffer{}, &SafeBuffer{}
	t.Cleanup(func() {
		if os.Getenv("CDFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})

	runErr := NewApp(out, logs, valid, hcl.NewLoader()).Run(context.Background())
	return out.String(), logs.String(), runErr
}
