package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/subsyncd/subsyncd/internal/pkg/env"
)

const (
	defaultProviderPageSize = 100
	providerBodyLimit       = 4 << 20
)

// ProviderSubscription is one entry of the provider's authoritative
// subscription list. UpdatedAt is the provider-side last-modified time used
// as the source event timestamp for reconciliation writes.
type ProviderSubscription struct {
	SubscriptionPayload
	UpdatedAt int64 `json:"updated_at"`
}

// SubscriptionPage is one page of the provider's paginated list API.
type SubscriptionPage struct {
	Data       []ProviderSubscription `json:"data"`
	HasMore    bool                   `json:"has_more"`
	NextCursor string                 `json:"next_cursor"`
}

// ProviderClient reads the provider's subscription list. It is used only by
// the reconciliation job; live state flows in through webhooks.
type ProviderClient struct {
	BaseURL  string
	APIKey   string
	PageSize int

	HTTPClient *http.Client
}

// NewProviderClientFromEnv builds the read client from BILLING_API_* vars.
func NewProviderClientFromEnv() *ProviderClient {
	pageSize, err := strconv.Atoi(env.GetEnv("BILLING_API_PAGE_SIZE", ""))
	if err != nil || pageSize <= 0 {
		pageSize = defaultProviderPageSize
	}
	return &ProviderClient{
		BaseURL:  strings.TrimRight(env.GetEnv("BILLING_API_BASE_URL", ""), "/"),
		APIKey:   strings.TrimSpace(env.GetEnv("BILLING_API_KEY", "")),
		PageSize: pageSize,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListSubscriptions fetches one page, starting after the given cursor. A 429
// response surfaces as *RateLimitedError carrying the provider's Retry-After
// so the caller can back off instead of hammering the API.
func (c *ProviderClient) ListSubscriptions(ctx context.Context, cursor string) (*SubscriptionPage, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("BILLING_API_BASE_URL is not configured")
	}

	u, err := url.Parse(c.BaseURL + "/v1/subscriptions")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = defaultProviderPageSize
	}
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, providerBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("provider list read: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider list request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var page SubscriptionPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("provider list decode: %w", err)
	}
	return &page, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
