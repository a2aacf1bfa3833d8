package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

const maxUpdateAttempts = 3

// Store reads and writes the portal configuration and admin state documents.
type Store struct {
	backend   Backend
	configKey string
	stateKey  string
	now       func() time.Time
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, configKey, stateKey string) *Store {
	return &Store{
		backend:   backend,
		configKey: configKey,
		stateKey:  stateKey,
		now:       time.Now,
	}
}

// ReadConfig returns the newest configuration and its revision. Before the
// first write it returns an empty configuration at revision 0.
func (s *Store) ReadConfig(ctx context.Context) (*model.PortalConfig, int64, error) {
	cfg := model.EmptyConfig()
	rev, err := s.read(ctx, s.configKey, cfg)
	if err != nil {
		return nil, 0, err
	}
	cfg.Normalize()
	return cfg, rev, nil
}

// WriteConfig stores cfg as the revision after expected. It returns
// ErrConflict when someone else wrote since expected was read.
func (s *Store) WriteConfig(ctx context.Context, cfg *model.PortalConfig, expected int64) (int64, error) {
	cfg.Normalize()
	return s.write(ctx, s.configKey, cfg, expected)
}

// UpdateConfig applies fn to the newest configuration and writes the result,
// retrying from a fresh read when another writer got in first.
func (s *Store) UpdateConfig(ctx context.Context, fn func(*model.PortalConfig) error) (*model.PortalConfig, int64, error) {
	for attempt := 1; ; attempt++ {
		cfg, rev, err := s.ReadConfig(ctx)
		if err != nil {
			return nil, 0, err
		}
		if err := fn(cfg); err != nil {
			return nil, 0, err
		}
		newRev, err := s.WriteConfig(ctx, cfg, rev)
		if err == nil {
			return cfg, newRev, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxUpdateAttempts {
			return nil, 0, err
		}
		log.WithField("attempt", attempt).Debug("config write conflict, retrying")
	}
}

// ResetConfig replaces the configuration with an empty one. The empty
// document is written as the next revision, so writers holding an older
// revision still conflict.
func (s *Store) ResetConfig(ctx context.Context) error {
	_, _, err := s.UpdateConfig(ctx, func(cfg *model.PortalConfig) error {
		*cfg = *model.EmptyConfig()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset config: %w", err)
	}
	return nil
}

// ReadAdminState returns the admin dismissal state, defaulting to version 0.0.0.
func (s *Store) ReadAdminState(ctx context.Context) (*model.AdminState, int64, error) {
	state := &model.AdminState{LastDismissedVersion: model.DefaultAdminVersion}
	rev, err := s.read(ctx, s.stateKey, state)
	if err != nil {
		return nil, 0, err
	}
	if state.LastDismissedVersion == "" {
		state.LastDismissedVersion = model.DefaultAdminVersion
	}
	return state, rev, nil
}

// WriteAdminState stores state as the revision after expected.
func (s *Store) WriteAdminState(ctx context.Context, state *model.AdminState, expected int64) (int64, error) {
	return s.write(ctx, s.stateKey, state, expected)
}

// DismissVersion records version as the last release notes the admins saw.
func (s *Store) DismissVersion(ctx context.Context, version string) (*model.AdminState, error) {
	for attempt := 1; ; attempt++ {
		state, rev, err := s.ReadAdminState(ctx)
		if err != nil {
			return nil, err
		}
		state.LastDismissedVersion = version
		state.UpdatedAt = s.now().UTC()
		_, err = s.WriteAdminState(ctx, state, rev)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxUpdateAttempts {
			return nil, err
		}
	}
}

func (s *Store) read(ctx context.Context, key string, v any) (int64, error) {
	doc, err := s.backend.Latest(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if doc == nil {
		return 0, nil
	}
	if err := json.Unmarshal([]byte(doc.Body), v); err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return doc.Revision, nil
}

func (s *Store) write(ctx context.Context, key string, v any, expected int64) (int64, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	doc := &Document{
		Key:       key,
		Revision:  expected + 1,
		Body:      string(body),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.backend.Put(ctx, doc); err != nil {
		return 0, err
	}
	// Latest wins; older copies are only garbage from here on.
	if err := s.backend.Prune(ctx, key, doc.Revision); err != nil {
		log.WithError(err).WithField("key", key).Warn("failed to prune stale revisions")
	}
	return doc.Revision, nil
}
