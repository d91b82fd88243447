package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"versus-quiz-service/internal/domain"
)

// Window is a fixed-window rate limit. Zero values disable the limit.
type Window struct {
	Window string `yaml:"window"`
	Max    int    `yaml:"max"`
}

type Config struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"corsOrigins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Round struct {
		Duration    string `yaml:"duration"`
		MaxRounds   int    `yaml:"maxRounds"`
		DetachGrace string `yaml:"detachGrace"`
		MaxLifespan string `yaml:"maxLifespan"`
	} `yaml:"round"`
	RateLimit struct {
		SessionGlobal  Window                  `yaml:"sessionGlobal"`
		SessionUser    Window                  `yaml:"sessionUser"`
		LLMGlobal      Window                  `yaml:"llmGlobal"`
		LLMUser        Window                  `yaml:"llmUser"`
		WSMessages     Window                  `yaml:"wsMessages"`
		ActiveSessions map[domain.GameMode]int `yaml:"activeSessions"`
	} `yaml:"rateLimit"`
	Opponents struct {
		SpecPath       string `yaml:"specPath"`
		TranscriptPath string `yaml:"transcriptPath"`
	} `yaml:"opponents"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subjectPrefix"`
	} `yaml:"nats"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads YAML config from path. Environment references are expanded first.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.Round.Duration != "" {
		d, err := time.ParseDuration(c.Round.Duration)
		if err != nil {
			return fmt.Errorf("round.duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("round.duration must be positive, got %s", c.Round.Duration)
		}
	}
	if c.Round.MaxRounds < 0 {
		return fmt.Errorf("round.maxRounds must not be negative")
	}
	for mode, n := range c.RateLimit.ActiveSessions {
		if mode != domain.ModeLightweight && mode != domain.ModePremium {
			return fmt.Errorf("rateLimit.activeSessions: unknown mode %q", mode)
		}
		if n < 0 {
			return fmt.Errorf("rateLimit.activeSessions.%s must not be negative", mode)
		}
	}
	return nil
}

// Duration parses a duration string or returns the fallback if empty.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Limit returns the parsed window and max. An unparsable window disables the limit.
func (w Window) Limit() (time.Duration, int) {
	return Duration(w.Window, 0), w.Max
}
