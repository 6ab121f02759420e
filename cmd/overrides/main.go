// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command overrides runs the override service and its probes.
//
// Usage:
//
//	overrides serve --config overrides.yaml
//	overrides resolve --seed-dir ./rules core/default/processing/event/fcom/_objects/trap/acme/device.json
//	overrides plan --server-url https://ua.example.com/api --overrides desired.json <file_id>
//	overrides journal list --dir /var/lib/overrides/journal
//
// Probes against a UA server read UA_USERNAME and UA_PASSWORD when the
// --username and --password flags are empty.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
