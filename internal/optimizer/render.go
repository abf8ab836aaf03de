package optimizer

import (
	"fmt"
	"io"
)

// WriteText renders an outcome for operators. The rendering contains no
// timings, so identical passes render identically.
func (o Outcome) WriteText(w io.Writer) error {
	scope := "all"
	if o.Scope.Category != "" {
		scope = string(o.Scope.Category)
	}
	mode := "commit"
	if o.Scope.DryRun {
		mode = "dry-run"
	}

	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("scope: %s (%s)\n", scope, mode)
	printf("scanned: %d\n", o.Scanned)
	if o.Degraded {
		printf("degraded: %v\n", o.Warning)
	}

	printf("plan: %d\n", len(o.Plan))
	for i, p := range o.Plan {
		marker := ""
		if !p.Specialized {
			marker = " (fallback)"
		}
		printf("  %3d. %-12s %-16s score=%-5d -> %s%s\n", i+1, p.ItemID, p.Category, p.Score, p.WorkerID, marker)
	}

	if !o.Scope.DryRun {
		printf("committed: %d\n", len(o.Committed))
		printf("deferred: %d\n", len(o.Deferred))
		for _, d := range o.Deferred {
			printf("  %s -> %s: %s\n", d.ItemID, d.WorkerID, d.Reason)
		}
		printf("rescored: %d\n", len(o.Rescored))
	}
	return err
}
