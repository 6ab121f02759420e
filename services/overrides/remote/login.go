// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// rule edit permission locations seen in login responses, in lookup order.
var editPermissionPaths = []jp.Expr{
	jp.MustParseString("$.data.Permissions.rule.Rules.update"),
	jp.MustParseString("$.data.Permissions.rule.Rules.Update"),
	jp.MustParseString("$.data.Permissions.Rule.Rules.update"),
	jp.MustParseString("$.data.Permissions.Rule.Rules.Update"),
	jp.MustParseString("$.Permissions.rule.Rules.update"),
	jp.MustParseString("$.Permissions.rule.Rules.Update"),
	jp.MustParseString("$.Permissions.Rule.Rules.update"),
	jp.MustParseString("$.Permissions.Rule.Rules.Update"),
	jp.MustParseString("$.data.permissions.rule.Rules.update"),
	jp.MustParseString("$.permissions.rule.Rules.update"),
}

// LoginResult is the outcome of a verified login.
type LoginResult struct {
	// CanEditRules reports the rule update permission granted to the user.
	CanEditRules bool

	// Raw is the decoded login response. Nil for certificate checks.
	Raw any
}

// Login verifies username and password against the rules API and reads the
// user's rule edit permission from the response.
func (c *UAClient) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	payload := map[string]any{"username": username, "password": password}
	body, err := c.do(ctx, http.MethodPost, "/Login/executeLogin", nil, payload)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return &LoginResult{CanEditRules: CanEditRules(body), Raw: body}, nil
}

// CheckAccess verifies certificate credentials with a one-entry listing of the
// rule tree root. Certificate sessions never carry edit permission.
func (c *UAClient) CheckAccess(ctx context.Context) (*LoginResult, error) {
	if _, err := c.List(ctx, "/", 0, 1); err != nil {
		return nil, fmt.Errorf("check access: %w", err)
	}
	return &LoginResult{}, nil
}

// CanEditRules reads the rule update permission from a decoded login
// response. The first permission path present decides; absence means false.
func CanEditRules(body any) bool {
	return permissionFlag(firstMatch(editPermissionPaths, body))
}

// permissionFlag interprets booleans, positive numbers and truthy strings.
func permissionFlag(v any) bool {
	switch f := v.(type) {
	case bool:
		return f
	case float64:
		return f > 0
	case int64:
		return f > 0
	case int:
		return f > 0
	case string:
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "true", "1", "yes", "y":
			return true
		}
	}
	return false
}
