package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// trustList is the wire shape expected at each configured HTTPS trust
// endpoint: a set of trusted (issuer, subject) pairs and trusted root
// DNs, merged with statically configured ones at startup.
type trustList struct {
	Pairs []TrustedPair `json:"pairs"`
	Roots []string      `json:"roots"`
}

// FetchTrustedLists retrieves and merges trust lists from the given HTTPS
// endpoints, trying each up to 3 times. A single endpoint's failure
// after its last attempt is logged and skipped rather than aborting startup.
func FetchTrustedLists(ctx context.Context, urls []string, log logr.Logger) ([]TrustedPair, []string) {
	client := &http.Client{Timeout: 10 * time.Second}

	var pairs []TrustedPair
	var roots []string
	for _, url := range urls {
		list, err := fetchOne(ctx, client, url)
		if err != nil {
			log.Error(err, "fetching trusted mTLS list failed, continuing without it", "url", url)
			continue
		}
		pairs = append(pairs, list.Pairs...)
		roots = append(roots, list.Roots...)
	}
	return pairs, roots
}

func fetchOne(ctx context.Context, client *http.Client, url string) (*trustList, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}
		var list trustList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("parsing trust list: %w", err)
		}
		return &list, nil
	}
	return nil, fmt.Errorf("after 3 attempts: %w", lastErr)
}
