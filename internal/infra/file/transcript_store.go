package file

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
	"versus-quiz-service/internal/domain"
)

type transcriptKey struct {
	questionID string
	profile    string
}

type transcriptDocument struct {
	Transcripts []transcriptEntry `yaml:"transcripts"`
}

type transcriptEntry struct {
	QuestionID             string           `yaml:"questionId"`
	Profile                string           `yaml:"profile"`
	Reasoning              string           `yaml:"reasoning"`
	FinalAnswer            domain.AnswerDTO `yaml:"finalAnswer"`
	AverageTokensPerSecond float64          `yaml:"averageTokensPerSecond"`
	ChunkSizeTokens        int              `yaml:"chunkSizeTokens"`
}

// TranscriptStore serves recorded opponent answers from a YAML file. The file
// is read on first use; a failed read is retried on the next lookup.
type TranscriptStore struct {
	path string
	sf   singleflight.Group

	mu     sync.RWMutex
	loaded bool
	byKey  map[transcriptKey]domain.LlmTranscript
}

func NewTranscriptStore(path string) *TranscriptStore {
	return &TranscriptStore{path: path}
}

// NewStaticTranscriptStore serves the given transcripts without a backing file.
func NewStaticTranscriptStore(transcripts []domain.LlmTranscript) *TranscriptStore {
	s := &TranscriptStore{loaded: true, byKey: make(map[transcriptKey]domain.LlmTranscript, len(transcripts))}
	for _, t := range transcripts {
		s.byKey[transcriptKey{t.QuestionID, t.ProfileName}] = t
	}
	return s
}

// Transcript returns the recording for a question and opponent profile.
func (s *TranscriptStore) Transcript(_ context.Context, questionID, profile string) (domain.LlmTranscript, error) {
	if err := s.ensureLoaded(); err != nil {
		return domain.LlmTranscript{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byKey[transcriptKey{questionID, profile}]
	if !ok {
		return domain.LlmTranscript{}, fmt.Errorf("%w: question %s profile %s", domain.ErrTranscriptNotFound, questionID, profile)
	}
	return t, nil
}

// Len reports how many transcripts are loaded.
func (s *TranscriptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func (s *TranscriptStore) ensureLoaded() error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	_, err, _ := s.sf.Do(s.path, func() (interface{}, error) {
		byKey, err := readTranscripts(s.path)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.byKey, s.loaded = byKey, true
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

func readTranscripts(path string) (map[transcriptKey]domain.LlmTranscript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcripts: %w", err)
	}
	var doc transcriptDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse transcripts: %w", err)
	}
	out := make(map[transcriptKey]domain.LlmTranscript, len(doc.Transcripts))
	for i, e := range doc.Transcripts {
		answer, err := e.FinalAnswer.Decode()
		if err != nil {
			return nil, fmt.Errorf("transcript %d (%s/%s): %w", i, e.QuestionID, e.Profile, err)
		}
		out[transcriptKey{e.QuestionID, e.Profile}] = domain.LlmTranscript{
			QuestionID:             e.QuestionID,
			ProfileName:            e.Profile,
			Reasoning:              e.Reasoning,
			FinalAnswer:            answer,
			AverageTokensPerSecond: e.AverageTokensPerSecond,
			ChunkSizeTokens:        e.ChunkSizeTokens,
		}
	}
	return out, nil
}
