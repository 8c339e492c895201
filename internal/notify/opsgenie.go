package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const DefaultOpsgenieURL = "https://api.opsgenie.com"

type Opsgenie struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// NewOpsgenie returns nil when apiKey is empty.
func NewOpsgenie(apiKey, baseURL string) *Opsgenie {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = DefaultOpsgenieURL
	}
	return &Opsgenie{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type opsgeniePayload struct {
	Message     string            `json:"message"`
	Description string            `json:"description,omitempty"`
	Alias       string            `json:"alias,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Entity      string            `json:"entity,omitempty"`
	Source      string            `json:"source,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

type opsgenieResponse struct {
	Result    string  `json:"result"`
	Took      float64 `json:"took"`
	RequestID string  `json:"requestId"`
}

func (o *Opsgenie) SendDownAlert(ctx context.Context, a DownAlert) (string, error) {
	if o == nil || o.APIKey == "" {
		return "", ErrNotConfigured
	}
	status := "N/A"
	if a.Status != nil {
		status = strconv.Itoa(*a.Status)
	}
	body, _ := json.Marshal(opsgeniePayload{
		Message:     a.title(),
		Description: a.description(),
		Alias:       DedupKey(a.URL),
		Priority:    "P2",
		Tags:        []string{"uptime-monitor", "downtime"},
		Entity:      a.URL,
		Source:      "Uptime Monitor",
		Details: map[string]string{
			"website": a.TargetName,
			"url":     a.URL,
			"status":  status,
			"error":   a.Error,
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/v2/alerts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("opsgenie request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "GenieKey "+o.APIKey)

	resp, err := o.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("opsgenie: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("opsgenie api error (%d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out opsgenieResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("opsgenie decode: %w", err)
	}
	return out.RequestID, nil
}
