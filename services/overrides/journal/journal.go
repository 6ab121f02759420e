// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
)

const incidentPrefix = "incident/"

// ErrNotFound indicates no incident exists with the given ID.
var ErrNotFound = errors.New("incident not found")

// Journal stores reconciliation incidents.
//
// # Thread Safety
//
// Safe for concurrent use.
type Journal struct {
	db     *db
	logger *slog.Logger
	now    func() time.Time
}

// Open opens the journal described by cfg.
func Open(cfg Config) (*Journal, error) {
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		db:     d,
		logger: logger.With("component", "journal.Journal"),
		now:    time.Now,
	}, nil
}

// OpenInMemory opens an ephemeral journal.
func OpenInMemory() (*Journal, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.close()
}

// Record implements engine.IncidentRecorder. An empty ID is replaced by a
// new ULID and a zero CreatedAt by the current time.
func (j *Journal) Record(ctx context.Context, incident *engine.Incident) error {
	if incident == nil {
		return errors.New("journal: nil incident")
	}
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = j.now().UTC()
	}
	if incident.ID == "" {
		incident.ID = ulid.MustNew(ulid.Timestamp(incident.CreatedAt), ulid.DefaultEntropy()).String()
	}

	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("journal: encode incident: %w", err)
	}
	if err := j.db.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(incidentPrefix+incident.ID), data)
	}); err != nil {
		return fmt.Errorf("journal: record incident: %w", err)
	}

	j.logger.Warn("reconciliation incident recorded",
		slog.String("incident_id", incident.ID),
		slog.String("tx_id", incident.TxID),
		slog.String("file_id", incident.FileID),
		slog.Int("unreverted", len(incident.Unreverted)),
	)
	return nil
}

// Get returns the incident with id.
func (j *Journal) Get(ctx context.Context, id string) (*engine.Incident, error) {
	var incident engine.Incident
	err := j.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(incidentPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &incident)
		})
	})
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// List returns up to limit incidents in creation order. A limit of zero
// returns all incidents.
func (j *Journal) List(ctx context.Context, limit int) ([]engine.Incident, error) {
	var out []engine.Incident
	err := j.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(incidentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var incident engine.Incident
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &incident)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, incident)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: list incidents: %w", err)
	}
	return out, nil
}

// Resolve removes an incident once it has been reconciled.
func (j *Journal) Resolve(ctx context.Context, id string) error {
	err := j.db.withTxn(ctx, func(txn *badger.Txn) error {
		key := []byte(incidentPrefix + id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	j.logger.Info("reconciliation incident resolved", slog.String("incident_id", id))
	return nil
}

var _ engine.IncidentRecorder = (*Journal)(nil)
