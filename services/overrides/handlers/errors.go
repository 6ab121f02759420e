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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/observability"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/servers"
)

// engineErrorResponse maps an engine or store error onto a status and a
// JSON body.
//
// # Description
//
//   - *ValidationError: 400 with details
//   - ErrInvalidPath: 400
//   - *RuleTextError: 400 with diagnostics
//   - ErrConflict: 409
//   - ErrPermissionDenied: 403
//   - unauthorized sessions or rejected store credentials: 401
//   - *AbortError: 500 with result and rollback
//   - anything else: 500
//
// Every body carries lastCall when the error identifies the failing call.
func engineErrorResponse(err error) (int, gin.H, observability.ErrorCode) {
	body := gin.H{"error": err.Error()}
	if call, ok := engine.LastCallOf(err); ok {
		body["lastCall"] = call
	}

	var (
		validationErr *engine.ValidationError
		ruleTextErr   *engine.RuleTextError
		abortErr      *engine.AbortError
	)
	switch {
	case errors.As(err, &validationErr):
		body["details"] = validationErr.Issues
		return http.StatusBadRequest, body, observability.ErrorCodeValidation

	case errors.Is(err, engine.ErrInvalidPath):
		return http.StatusBadRequest, body, observability.ErrorCodeValidation

	case errors.As(err, &ruleTextErr):
		body["diagnostics"] = ruleTextErr.Diagnostics
		return http.StatusBadRequest, body, observability.ErrorCodeValidation

	case errors.Is(err, engine.ErrConflict):
		return http.StatusConflict, body, observability.ErrorCodeConflict

	case errors.Is(err, engine.ErrPermissionDenied):
		return http.StatusForbidden, body, observability.ErrorCodeForbidden

	case errors.As(err, &abortErr):
		body["result"] = gin.H{
			"writes": abortErr.Succeeded,
			"files":  abortErr.Files,
		}
		body["rollback"] = abortErr.Rollback
		return http.StatusInternalServerError, body, observability.ErrorCodeAborted

	case errors.Is(err, extensions.ErrUnauthorized), errors.Is(err, remote.ErrUnauthorized):
		return http.StatusUnauthorized, body, observability.ErrorCodeUnauthorized

	case errors.Is(err, servers.ErrUnknownServer):
		return http.StatusNotFound, body, observability.ErrorCodeValidation

	case errors.Is(err, engine.ErrTransientStore):
		return http.StatusInternalServerError, body, observability.ErrorCodeStore
	}
	return http.StatusInternalServerError, body, observability.ErrorCodeInternal
}
