package intent

import (
	"math"
	"strings"
)

// Matching weights. Semantic similarity dominates; the rest refine.
const (
	weightSemantic   = 0.5
	weightDomain     = 0.2
	weightContext    = 0.15
	weightCapability = 0.15

	// matchThreshold is strict: a score must exceed it to qualify.
	matchThreshold = 0.5
)

// cosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched lengths or a zero-magnitude vector score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// domainSimilarity counts workflow domains contained in the classified
// domain, case-insensitive, normalized by the larger side.
func domainSimilarity(workflowDomains []string, classifiedDomain string) float64 {
	if len(workflowDomains) == 0 {
		return 0
	}
	needle := strings.ToLower(classifiedDomain)
	matches := 0
	for _, d := range workflowDomains {
		if strings.Contains(needle, strings.ToLower(d)) {
			matches++
		}
	}
	return float64(matches) / float64(len(workflowDomains))
}

// contextAlignment is 1 when the classified context is one of the workflow's
// secondary contexts, 0 otherwise.
func contextAlignment(secondaryContexts []string, classifiedContext string) float64 {
	for _, c := range secondaryContexts {
		if c == classifiedContext {
			return 1
		}
	}
	return 0
}

// capabilityAlignment counts classified capabilities that overlap a workflow
// capability by substring in either direction, normalized by the larger set.
func capabilityAlignment(classified, required []string) float64 {
	denom := len(classified)
	if len(required) > denom {
		denom = len(required)
	}
	if denom == 0 {
		return 0
	}
	matches := 0
	for _, cap := range classified {
		lc := strings.ToLower(cap)
		for _, rc := range required {
			lr := strings.ToLower(rc)
			if strings.Contains(lr, lc) || strings.Contains(lc, lr) {
				matches++
				break
			}
		}
	}
	return float64(matches) / float64(denom)
}
