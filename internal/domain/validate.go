package domain

import "fmt"

// ValidateVulnerability enforces I4 (severity must match the CVSS bucket)
// and I5 (epss_score, when present, is a probability in [0,1]) before a
// Vulnerability node is upserted. The enrichment orchestrator (C6) calls
// this after composing a node from the three upstream sources and before
// handing it to the graph store.
func ValidateVulnerability(v Vulnerability) error {
	if v.CVEID == "" {
		return NewError(KindSchemaMismatch, "vulnerability missing cve_id", nil)
	}
	if v.CVSSScore != nil {
		score := *v.CVSSScore
		if score < 0 || score > 10 {
			return NewError(KindSchemaMismatch, fmt.Sprintf("cvss_score %f out of range [0,10]", score), nil)
		}
		want := SeverityFromCVSS(score)
		if v.Severity != want {
			return NewError(KindSchemaMismatch, fmt.Sprintf("severity %q inconsistent with cvss_score %f (want %q)", v.Severity, score, want), nil)
		}
	}
	if v.EPSSScore != nil {
		score := *v.EPSSScore
		if score < 0 || score > 1 {
			return NewError(KindSchemaMismatch, fmt.Sprintf("epss_score %f out of range [0,1]", score), nil)
		}
	}
	return nil
}
