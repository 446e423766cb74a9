package local

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

// DefaultKey is the key the whole collection is stored under.
const DefaultKey = "promemoria-impegni"

// Store persists the appointment collection as a single JSON array in a KV.
type Store struct {
	kv     *KV
	key    string
	logger *zap.Logger
}

// NewStore returns a Store over kv under key, or DefaultKey when key is empty.
func NewStore(kv *KV, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, key: key, logger: logger}
}

// Load returns the stored collection. Missing or unreadable data yields an
// empty collection; it never fails.
func (s *Store) Load() []model.Appointment {
	raw, ok, err := s.kv.Get(s.key)
	if err != nil {
		s.logger.Warn("could not read local appointments", zap.String("key", s.key), zap.Error(err))
		return []model.Appointment{}
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return []model.Appointment{}
	}

	var list []model.Appointment
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Warn("discarding malformed local appointments", zap.String("key", s.key), zap.Error(err))
		return []model.Appointment{}
	}
	if list == nil {
		return []model.Appointment{}
	}
	kept := make([]model.Appointment, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	dropped := 0
	for _, apt := range list {
		apt.Time = nonBlank(apt.Time)
		apt.Notes = nonBlank(apt.Notes)
		if apt.Validate() != nil {
			dropped++
			continue
		}
		if _, dup := seen[apt.ID]; dup {
			dropped++
			continue
		}
		seen[apt.ID] = struct{}{}
		kept = append(kept, apt)
	}
	if dropped > 0 {
		s.logger.Warn("dropped invalid local appointments", zap.String("key", s.key), zap.Int("count", dropped))
	}
	return kept
}

// Save overwrites the stored collection.
func (s *Store) Save(list []model.Appointment) error {
	if list == nil {
		list = []model.Appointment{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode appointments: %w", err)
	}
	if err := s.kv.Set(s.key, b); err != nil {
		return fmt.Errorf("failed to write appointments: %w", err)
	}
	return nil
}

func nonBlank(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
