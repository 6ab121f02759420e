// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"time"
)

// Incident records a transaction whose rollback left the remote store
// inconsistent. Unreverted holds the writes that remained applied, each
// with the content needed to restore it by hand.
type Incident struct {
	ID            string       `json:"id"`
	TxID          string       `json:"txId"`
	FileID        string       `json:"fileId"`
	ServerID      string       `json:"serverId,omitempty"`
	CommitMessage string       `json:"commitMessage"`
	Cause         string       `json:"cause"`
	Unreverted    []WriteOp    `json:"unreverted"`
	Files         []FileResult `json:"files"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// IncidentRecorder persists incidents for manual reconciliation.
type IncidentRecorder interface {
	Record(ctx context.Context, incident *Incident) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *Incident) error { return nil }
