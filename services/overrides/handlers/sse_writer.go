// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
)

// SSE event names of the save stream.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is one frame of the save stream.
//
// Id, CreatedAt, Hash and PrevHash are set by the writer. Hash chains each
// frame to the previous one so a client can detect dropped frames.
type StreamEvent struct {
	Id        string           `json:"id"`
	Type      string           `json:"type"`
	CreatedAt int64            `json:"createdAt"`
	Hash      string           `json:"hash"`
	PrevHash  string           `json:"prevHash,omitempty"`
	Progress  *engine.Progress `json:"progress,omitempty"`
	Status    int              `json:"status,omitempty"`
	Payload   any              `json:"payload,omitempty"`
}

// SSEWriter writes save stream events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; keepalives are written
// from a separate goroutine.
type SSEWriter interface {
	// WriteProgress writes one engine progress transition.
	WriteProgress(p engine.Progress) error

	// WriteComplete writes the final save payload.
	WriteComplete(payload any) error

	// WriteError writes the failure payload with the status the plain save
	// endpoint would have answered.
	WriteError(status int, payload any) error

	// WriteKeepAlive sends an SSE comment line.
	WriteKeepAlive() error
}

type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	closed   bool
	mu       sync.Mutex
}

// NewSSEWriter wraps w. Returns an error if w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) writeEvent(event StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("write %s event: stream already terminated", event.Type)
	}

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash

	body, err := json.Marshal(struct {
		Progress *engine.Progress `json:"progress,omitempty"`
		Status   int              `json:"status,omitempty"`
		Payload  any              `json:"payload,omitempty"`
	}{event.Progress, event.Status, event.Payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	event.Hash = chainHash(event, body)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if event.Type != EventProgress {
		w.closed = true
	}
	w.flusher.Flush()
	return nil
}

// chainHash hashes the event identity, its predecessor and its body.
func chainHash(event StreamEvent, body []byte) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|", event.Id, event.Type, event.CreatedAt, event.PrevHash)
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (w *sseWriter) WriteProgress(p engine.Progress) error {
	return w.writeEvent(StreamEvent{Type: EventProgress, Progress: &p})
}

func (w *sseWriter) WriteComplete(payload any) error {
	return w.writeEvent(StreamEvent{Type: EventComplete, Status: http.StatusOK, Payload: payload})
}

func (w *sseWriter) WriteError(status int, payload any) error {
	return w.writeEvent(StreamEvent{Type: EventError, Status: status, Payload: payload})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the headers of an event stream response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
