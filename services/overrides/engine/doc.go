// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine reconciles rule-object overrides stored in a remote rule
// store and writes them back as compensatable multi-file transactions.
//
// # Overview
//
// Every rule file under a processing family folder (for example ".../fcom/...")
// has overrides stored in that family's "overrides" folder. Two layouts
// coexist:
//
//	<root>/overrides/<vendor>.<mib>.<object>.override.json   per-object file
//	<root>/overrides/<vendor>.<method>.override.json         legacy file
//	<root>/overrides/<vendor>.override.json                  legacy file
//
// Per-object files win over legacy entries. Saving migrates the saved
// objects out of the legacy file and deletes it once it is empty.
//
// # Components
//
//   - ResolveLocation: Maps a rule file path to its override folder.
//   - Assembler: Reads the effective overrides of a rule file.
//   - Planner: Validates a desired set and computes an ordered write plan.
//   - Executor: Runs a plan sequentially and reverts applied writes on failure.
//   - Engine: Combines the above for the HTTP and CLI surfaces.
//
// # Transactions
//
// The remote store only has per-file operations. A plan captures the
// previous content of every file it touches before any write runs, so that
// a failure at op k can be undone by replaying ops k-1..1 in reverse:
//
//	create  -> delete
//	update  -> update(previousContent)
//	delete  -> create(previousContent)
//
// A rollback that cannot be completed is recorded through IncidentRecorder
// and reported with RollbackIncomplete. The original failure is always the
// error returned.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Concurrent saves of the
// same rule file are not serialized; the optional etag precondition detects
// changes made between a read and a save.
package engine
