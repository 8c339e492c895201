package probe

import "context"

// Request is what a checker needs to probe one target.
type Request struct {
	URL string
	// ExpectedStatus, when set, is the only status counted as up.
	ExpectedStatus *int
}

// CheckResult is the unified result of a single probe.
//
// StatusCode is 0 for transport and DNS errors. Name labels the checker kind.
type CheckResult struct {
	Success    bool
	LatencyMS  float64
	Message    string
	StatusCode int
	Name       string
}

// Checker performs a single check for a given target.
type Checker interface {
	Check(ctx context.Context, req Request) CheckResult
}

// Classify reports whether status counts as up. Without an expected status
// any 2xx or 3xx is up.
func Classify(status int, expected *int) bool {
	if expected != nil {
		return status == *expected
	}
	return status >= 200 && status < 400
}
