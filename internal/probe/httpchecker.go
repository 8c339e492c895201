package probe

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

type HTTPChecker struct {
	Client *http.Client
	// DNS, when set, annotates transport failures with a resolver diagnosis.
	DNS *DNSChecker
}

// NewHTTPChecker builds a checker with the default redirect policy.
// A zero timeout leaves the request bounded only by its context.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPChecker) Check(ctx context.Context, r Request) CheckResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return CheckResult{Name: "HTTP", Success: false, Message: err.Error()}
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("User-Agent", "uptimemonitor/1.0")

	resp, err := h.Client.Do(req)
	latency := time.Since(start).Seconds() * 1000 // ms
	if err != nil {
		return CheckResult{Name: "HTTP", Success: false, Message: h.annotate(ctx, r.URL, err.Error()), LatencyMS: latency}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	return CheckResult{
		Name:       "HTTP",
		Success:    Classify(resp.StatusCode, r.ExpectedStatus),
		Message:    resp.Status,
		StatusCode: resp.StatusCode,
		LatencyMS:  latency,
	}
}

func (h *HTTPChecker) annotate(ctx context.Context, target, msg string) string {
	if h.DNS == nil {
		return msg
	}
	// the request deadline may already be spent; the lookup has its own dnsTimeout
	res := h.DNS.Check(context.WithoutCancel(ctx), Request{URL: target})
	if res.Success {
		return msg
	}
	return msg + " (dns=" + res.Message + ")"
}

func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
