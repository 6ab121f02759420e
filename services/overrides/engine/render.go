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
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WritePlan writes a readable rendering of plan to w.
//
// Content blocks are indented and printed verbatim. The etag is omitted.
func WritePlan(w io.Writer, plan *Plan) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "file: %s\n", plan.FileID)
	fmt.Fprintf(bw, "override root: %s\n", plan.Location.OverrideRoot)
	if plan.EnsureRoot {
		fmt.Fprintf(bw, "  (folder will be created)\n")
	}
	fmt.Fprintf(bw, "commit message: %s\n", plan.CommitMessage)
	fmt.Fprintf(bw, "ops: %d\n", len(plan.Ops))

	for i, op := range plan.Ops {
		label := ""
		if op.Legacy {
			label = " [legacy]"
		}
		fmt.Fprintf(bw, "\n%d. %s %s%s\n", i+1, op.Action, op.PathID, label)
		if len(op.ObjectNames) > 0 {
			fmt.Fprintf(bw, "   objects: %s\n", strings.Join(op.ObjectNames, ", "))
		}
		if op.Payload != "" {
			writeBlock(bw, "content", op.Payload)
		}
		if op.PreviousContent != "" {
			writeBlock(bw, "previous", op.PreviousContent)
		}
	}
	return bw.Flush()
}

func writeBlock(w io.Writer, label, text string) {
	fmt.Fprintf(w, "   %s:\n", label)
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(w, "     %s\n", line)
	}
}
