package opponent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"versus-quiz-service/internal/domain"
)

type specDocument struct {
	Opponents []specEntry `yaml:"opponents"`
}

type specEntry struct {
	ID          string `yaml:"id"`
	Mode        string `yaml:"mode"`
	DisplayName string `yaml:"displayName"`
	Profile     string `yaml:"profile"`
	Streaming   struct {
		RevealDelay            string  `yaml:"revealDelay"`
		TargetTokensPerSecond  int     `yaml:"targetTokensPerSecond"`
		BurstMultiplierOnFinal float64 `yaml:"burstMultiplierOnFinal"`
		MaxBufferedChars       int     `yaml:"maxBufferedChars"`
	} `yaml:"streaming"`
	Provider *struct {
		BaseURL     string  `yaml:"baseUrl"`
		APIKey      string  `yaml:"apiKey"`
		Model       string  `yaml:"model"`
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"maxTokens"`
	} `yaml:"provider"`
}

// LoadSpecs reads opponent definitions. ${VAR} references are expanded from the environment.
func LoadSpecs(path string) ([]domain.OpponentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read opponents: %w", err)
	}
	return ParseSpecs([]byte(os.ExpandEnv(string(data))))
}

// ParseSpecs decodes and validates opponent definitions.
func ParseSpecs(data []byte) ([]domain.OpponentSpec, error) {
	var doc specDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse opponents: %w", err)
	}

	seen := make(map[string]bool, len(doc.Opponents))
	specs := make([]domain.OpponentSpec, 0, len(doc.Opponents))
	for i, e := range doc.Opponents {
		if e.ID == "" {
			return nil, fmt.Errorf("opponent %d: id is required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("opponent %s: duplicate id", e.ID)
		}
		seen[e.ID] = true

		spec := domain.OpponentSpec{
			ID:          e.ID,
			Mode:        domain.GameMode(e.Mode),
			DisplayName: e.DisplayName,
			ProfileName: e.Profile,
			Streaming: domain.StreamingPolicy{
				TargetTokensPerSecond:  e.Streaming.TargetTokensPerSecond,
				BurstMultiplierOnFinal: e.Streaming.BurstMultiplierOnFinal,
				MaxBufferedChars:       e.Streaming.MaxBufferedChars,
			},
		}
		if spec.DisplayName == "" {
			spec.DisplayName = spec.ID
		}
		if e.Streaming.RevealDelay != "" {
			d, err := time.ParseDuration(e.Streaming.RevealDelay)
			if err != nil {
				return nil, fmt.Errorf("opponent %s: revealDelay: %w", e.ID, err)
			}
			spec.Streaming.RevealDelay = d
		}
		spec.Streaming = withDefaults(spec.Streaming)

		switch spec.Mode {
		case domain.ModeLightweight:
			if spec.ProfileName == "" {
				return nil, fmt.Errorf("opponent %s: profile is required for %s", e.ID, spec.Mode)
			}
		case domain.ModePremium:
			if e.Provider == nil || e.Provider.Model == "" {
				return nil, fmt.Errorf("opponent %s: provider.model is required for %s", e.ID, spec.Mode)
			}
		default:
			return nil, fmt.Errorf("opponent %s: unknown mode %q", e.ID, e.Mode)
		}
		if e.Provider != nil {
			spec.Provider = &domain.ProviderConfig{
				BaseURL:     e.Provider.BaseURL,
				APIKey:      e.Provider.APIKey,
				Model:       e.Provider.Model,
				Temperature: e.Provider.Temperature,
				MaxTokens:   e.Provider.MaxTokens,
			}
			if spec.ProfileName == "" {
				spec.ProfileName = e.Provider.Model
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
