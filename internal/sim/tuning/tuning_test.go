package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEmbeddedMatchesDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("embedded tuning drifted from defaults:\n got %+v\nwant %+v", got, Defaults())
	}
	if got.TickInterval() != time.Second {
		t.Fatalf("tick interval: %v", got.TickInterval())
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("tick_interval_ms: 250\njournal:\n  enabled: false\n  codec: lz4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TickIntervalMs != 250 || got.Journal.Codec != "lz4" || got.Journal.Enabled {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.Contracts.MaxActive != 3 || got.Contracts.PeriodicEveryTicks != 30 {
		t.Fatalf("defaults lost: %+v", got.Contracts)
	}
}

func TestLoadRejectsBadCodec(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("journal:\n  codec: gzip\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error")
	}
}
