package tuning

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stellarcolony.ai/configs"
)

type Tuning struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`

	Contracts  Contracts  `yaml:"contracts"`
	Journal    Journal    `yaml:"journal"`
	Sessions   Sessions   `yaml:"sessions"`
	RateLimits RateLimits `yaml:"rate_limits"`
}

type Contracts struct {
	MinAvailable       int `yaml:"min_available"`
	MaxActive          int `yaml:"max_active"`
	PeriodicEveryTicks int `yaml:"periodic_every_ticks"`
	PeriodicCap        int `yaml:"periodic_cap"`
}

type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Codec   string `yaml:"codec"` // "zstd" | "lz4"
}

type Sessions struct {
	MaxSessions       int `yaml:"max_sessions"`
	IdleTimeoutSec    int `yaml:"idle_timeout_sec"`
	ResumeTokenTTLSec int `yaml:"resume_token_ttl_sec"`
	SubscriberQueue   int `yaml:"subscriber_queue"`
}

type RateLimits struct {
	IntentsPerSec float64 `yaml:"intents_per_sec"`
	IntentBurst   int     `yaml:"intent_burst"`
}

func Defaults() Tuning {
	return Tuning{
		TickIntervalMs: 1000,
		Contracts: Contracts{
			MinAvailable:       3,
			MaxActive:          3,
			PeriodicEveryTicks: 30,
			PeriodicCap:        5,
		},
		Journal:  Journal{Enabled: true, Codec: "zstd"},
		Sessions: Sessions{MaxSessions: 64, IdleTimeoutSec: 900, ResumeTokenTTLSec: 86400, SubscriberQueue: 4},
		RateLimits: RateLimits{
			IntentsPerSec: 20,
			IntentBurst:   40,
		},
	}
}

// Load reads path over Defaults. An empty path yields the embedded tuning.yaml.
func Load(path string) (Tuning, error) {
	var (
		raw []byte
		err error
	)
	if strings.TrimSpace(path) == "" {
		raw, err = fs.ReadFile(configs.FS, "tuning.yaml")
	} else {
		raw, err = os.ReadFile(path)
	}
	t := Defaults()
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be > 0")
	}
	c := t.Contracts
	if c.MinAvailable < 0 || c.MaxActive < 1 || c.PeriodicEveryTicks < 0 || c.PeriodicCap < c.MinAvailable {
		return fmt.Errorf("contracts: bad limits %+v", c)
	}
	switch t.Journal.Codec {
	case "zstd", "lz4":
	default:
		return fmt.Errorf("journal.codec: unknown %q", t.Journal.Codec)
	}
	if t.Sessions.MaxSessions < 1 {
		return fmt.Errorf("sessions.max_sessions must be >= 1")
	}
	if t.RateLimits.IntentsPerSec <= 0 || t.RateLimits.IntentBurst < 1 {
		return fmt.Errorf("rate_limits: intents_per_sec and intent_burst must be positive")
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

func (t Tuning) IdleTimeout() time.Duration {
	return time.Duration(t.Sessions.IdleTimeoutSec) * time.Second
}

func (t Tuning) ResumeTokenTTL() time.Duration {
	return time.Duration(t.Sessions.ResumeTokenTTLSec) * time.Second
}
