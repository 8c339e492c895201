package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ErrNotConfigured is returned when no provider credentials are set.
var ErrNotConfigured = errors.New("alert provider not configured")

// DownAlert describes a target that crossed the failure threshold.
type DownAlert struct {
	TargetName string
	URL        string
	Status     *int // nil when the probe never got a response
	Error      string
}

// Dispatcher sends a deduplicated "target down" alert and returns the
// provider's request id when it has one.
type Dispatcher interface {
	SendDownAlert(ctx context.Context, a DownAlert) (string, error)
}

// Notifier is a plain title/text sink such as a chat webhook.
type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// DedupKey is the provider-side alias shared by every alert of one URL.
func DedupKey(url string) string {
	var b strings.Builder
	b.WriteString("website-down-")
	for _, r := range url {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

func (a DownAlert) title() string { return "Website Down: " + a.TargetName }

func (a DownAlert) description() string {
	if a.Status != nil {
		return fmt.Sprintf("Website %s (%s) is down with status code %d.", a.TargetName, a.URL, *a.Status)
	}
	return strings.TrimSpace(fmt.Sprintf("Website %s (%s) is down. %s", a.TargetName, a.URL, a.Error))
}

// Multi fans an alert out to every provider.
type Multi []Dispatcher

// New keeps only the configured providers.
func New(opsgenie *Opsgenie, slack *Slack) Multi {
	var m Multi
	if opsgenie != nil {
		m = append(m, opsgenie)
	}
	if slack != nil {
		m = append(m, slack)
	}
	return m
}

// SendDownAlert returns the first non-empty request id and every provider error combined.
func (m Multi) SendDownAlert(ctx context.Context, a DownAlert) (string, error) {
	if len(m) == 0 {
		return "", ErrNotConfigured
	}
	var (
		requestID string
		errs      error
	)
	for _, d := range m {
		id, err := d.SendDownAlert(ctx, a)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if requestID == "" {
			requestID = id
		}
	}
	return requestID, errs
}
