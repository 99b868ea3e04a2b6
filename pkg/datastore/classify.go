package datastore

import (
	"regexp"
	"strings"
)

// Pool names the two connection pools the router maintains.
type Pool string

const (
	// PoolTx serves short-lived statements.
	PoolTx Pool = "tx"
	// PoolSess serves long-running, joining, or vector-involving queries.
	PoolSess Pool = "sess"
)

var (
	aggregateRe = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max|group\s+by|having)\s*\(?`)
	windowRe    = regexp.MustCompile(`(?i)\bover\s*\(`)
	joinRe      = regexp.MustCompile(`(?i)\bjoin\b`)
	// pgvector distance operators: <-> (L2), <#> (inner product), <=> (cosine).
	vectorOpRe = regexp.MustCompile(`<->|<#>|<=>`)
	fromRe     = regexp.MustCompile(`(?i)\b(?:from|update|into|join)\s+([a-z_][a-z0-9_.]*)`)
)

// Classify routes a statement to a pool: complex when it touches more than
// one base relation, aggregates, joins, uses window functions, or uses a
// vector-similarity operator; simple otherwise. Callers that know their
// workload should pick the pool explicitly and skip the heuristic.
func Classify(stmt string) Pool {
	if vectorOpRe.MatchString(stmt) || windowRe.MatchString(stmt) ||
		joinRe.MatchString(stmt) || aggregateRe.MatchString(stmt) {
		return PoolSess
	}
	if countRelations(stmt) > 1 {
		return PoolSess
	}
	return PoolTx
}

func countRelations(stmt string) int {
	seen := make(map[string]struct{})
	for _, m := range fromRe.FindAllStringSubmatch(stmt, -1) {
		name := strings.ToLower(m[1])
		// Skip subselect openers.
		if name == "select" {
			continue
		}
		seen[name] = struct{}{}
	}
	return len(seen)
}
