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
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/validation"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxOverridesPerSave bounds the desired set of one save.
	MaxOverridesPerSave = 500

	// MaxCommitMessageBytes bounds the commit message.
	MaxCommitMessageBytes = 4096
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("rulepath", validateRulePath)
}

// validateRulePath applies validation.ValidateRulePath to a tagged field.
func validateRulePath(fl validator.FieldLevel) bool {
	return validation.ValidateRulePath(fl.Field().String()) == nil
}

// =============================================================================
// Requests
// =============================================================================

// SaveRequest is the body of the save endpoints.
//
// CommitMessage is a pointer so that an explicitly empty message is
// accepted while a missing one is rejected.
type SaveRequest struct {
	FileID        string            `json:"file_id" validate:"required,rulepath"`
	Overrides     []json.RawMessage `json:"overrides" validate:"required,max=500"`
	CommitMessage *string           `json:"commit_message" validate:"required"`
	ETag          string            `json:"etag,omitempty"`
}

// Validate checks the request shape. Override content is validated by the
// engine.
func (r *SaveRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return err
	}
	if len(*r.CommitMessage) > MaxCommitMessageBytes {
		return errors.New("commit_message exceeds 4096 bytes")
	}
	return nil
}

// toEngine converts the body to an engine save request.
func (r *SaveRequest) toEngine(serverID string) engine.SaveRequest {
	return engine.SaveRequest{
		FileID:        r.FileID,
		Overrides:     r.Overrides,
		CommitMessage: *r.CommitMessage,
		ETag:          r.ETag,
		ServerID:      serverID,
	}
}

// LoginRequest is the body of the login endpoint.
type LoginRequest struct {
	ServerID string `json:"server_id"`
	AuthType string `json:"auth_type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	CertPath string `json:"cert_path,omitempty"`
	KeyPath  string `json:"key_path,omitempty"`
}

// =============================================================================
// Responses
// =============================================================================

// ResolveResponse is the body of GET /overrides.
type ResolveResponse struct {
	engine.Location
	Overrides             []engine.OverrideEntry         `json:"overrides"`
	OverrideFormat        string                         `json:"overrideFormat"`
	OverrideMetaByObject  map[string]engine.OverrideMeta `json:"overrideMetaByObject"`
	OverrideFilesByObject map[string]string              `json:"overrideFilesByObject"`
	OverrideRootRulePath  string                         `json:"overrideRootRulePath"`
	ETag                  string                         `json:"etag"`
	Exists                bool                           `json:"exists"`
}

// SaveResponse is the body of a committed save.
type SaveResponse struct {
	ResolveResponse
	Result SaveSummary `json:"result"`
}

// SaveSummary is the transaction part of a save response.
type SaveSummary struct {
	TxID     string                `json:"txId"`
	State    engine.TxState        `json:"state"`
	Writes   int                   `json:"writes"`
	Files    []engine.FileResult   `json:"files"`
	Rollback engine.RollbackReport `json:"rollback"`
}

// NewResolveResponse builds the GET /overrides body from a resolution.
func NewResolveResponse(res *engine.Resolution) ResolveResponse {
	overrides := res.Overrides
	if overrides == nil {
		overrides = []engine.OverrideEntry{}
	}
	return ResolveResponse{
		Location:              res.Location,
		Overrides:             overrides,
		OverrideFormat:        "object",
		OverrideMetaByObject:  res.MetaByObject,
		OverrideFilesByObject: res.FilesByObject,
		OverrideRootRulePath:  res.Location.OverrideRoot,
		ETag:                  res.ETag,
		Exists:                res.Exists,
	}
}

func saveResponse(out *engine.SaveResult) SaveResponse {
	files := out.Result.Files
	if files == nil {
		files = []engine.FileResult{}
	}
	return SaveResponse{
		ResolveResponse: NewResolveResponse(out.Resolution),
		Result: SaveSummary{
			TxID:     out.Result.TxID,
			State:    out.Result.State,
			Writes:   out.Result.Writes,
			Files:    files,
			Rollback: out.Result.Rollback,
		},
	}
}
