package main

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/untoldecay/graphtwin/internal/audit"
	"github.com/untoldecay/graphtwin/internal/config"
	"github.com/untoldecay/graphtwin/internal/queue"
	"github.com/untoldecay/graphtwin/internal/store"
)

// openQueue opens the configured queue backend or exits.
func openQueue() queue.Queue {
	q, err := queue.Open()
	if err != nil {
		FatalError("opening queue: %v", err)
	}
	return q
}

// openStore returns the version store rooted at the configured data dir.
func openStore() *store.Store {
	return store.New(config.DataDir())
}

// openAudit opens the audit log. Auditing is best-effort: a log that cannot
// be opened downgrades to a no-op sink with a warning rather than blocking
// the pipeline.
func openAudit() audit.Log {
	if !config.GetBool("audit.enabled") {
		return audit.Nop{}
	}
	aud, err := audit.Open(config.AuditPath())
	if err != nil {
		WarnError("audit log unavailable, continuing without it: %v", err)
		return audit.Nop{}
	}
	return aud
}

// versionNotFound exits with a not-found error, suggesting the closest
// stored version name when one is within editing distance of the typo.
func versionNotFound(st *store.Store, version string) {
	msg := fmt.Sprintf("version %q not found", version)
	if names, err := st.ListVersions(); err == nil {
		if closest := closestName(version, names, 3); closest != "" {
			FatalErrorWithHint(msg, fmt.Sprintf("Did you mean %q?", closest))
		}
	}
	FatalErrorWithHint(msg, "Run 'gt versions' to list stored versions")
}

// closestName returns the candidate nearest to query by Levenshtein
// distance, or "" when none is within maxDistance.
func closestName(query string, candidates []string, maxDistance int) string {
	best, bestDist := "", maxDistance+1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(query), strings.ToLower(c))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
