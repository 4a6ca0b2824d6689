package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	id "proofgate/pkg/domain"
)

// LedgerClient posts eligibility notifications to the ledger service over
// HTTP. Every call is bounded by the configured request timeout so a slow
// ledger cannot stall callback processing.
type LedgerClient struct {
	url        string
	httpClient *http.Client
}

func NewLedgerClient(url string, requestTimeout time.Duration) *LedgerClient {
	return &LedgerClient{
		url: url,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type ledgerRequest struct {
	UserID    string    `json:"user_id"`
	Composite int       `json:"composite"`
	Passed    bool      `json:"passed"`
	CrossedAt time.Time `json:"crossed_at"`
}

func (c *LedgerClient) Notify(ctx context.Context, userID id.UserID, snapshot Snapshot) error {
	body, err := json.Marshal(ledgerRequest{
		UserID:    userID.String(),
		Composite: snapshot.Composite,
		Passed:    snapshot.Passed,
		CrossedAt: snapshot.CrossedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
	return nil
}
