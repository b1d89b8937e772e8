package main

import (
	"fmt"
	"strings"
)

// maxCorrectionDirectives bounds the conditioning block so the prompt does
// not grow with the lifetime of an installation's correction history.
const maxCorrectionDirectives = 10

// BuildCorrectionGuidance renders a correction summary into the instruction
// block embedded in classifier requests. Entries are framed as soft
// preferences: the classifier keeps authority when the image clearly
// contradicts history, since corrections come from fallible users.
//
// An empty or nil summary yields the empty string, so a request built with
// no correction history is byte-identical to one built with a nil summary.
func BuildCorrectionGuidance(summary *CorrectionSummary) string {
	if summary == nil || len(summary.Entries) == 0 {
		return ""
	}

	var b strings.Builder
	rendered := 0
	for _, e := range summary.Entries {
		if e.Count < 1 || e.OriginalName == e.CorrectedName {
			continue
		}
		if rendered >= maxCorrectionDirectives {
			break
		}
		if rendered == 0 {
			b.WriteString("PAST USER CORRECTIONS (soft preferences, not rules):\n")
		}
		b.WriteString(fmt.Sprintf(
			"- Users corrected \"%s\" to \"%s\" %d time(s). If the visual evidence is ambiguous, prefer \"%s\"; if the image clearly shows \"%s\", keep it.\n",
			e.OriginalName, e.CorrectedName, e.Count, e.CorrectedName, e.OriginalName,
		))
		rendered++
	}
	return b.String()
}
