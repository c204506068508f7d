package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qiwenlee/fundflow/internal/models"
)

const tiantianName = "tiantian"

// TiantianClient wraps the intraday estimate feed. The upstream only
// publishes the current estimate and the last confirmed NAV, so this
// adapter supports FetchLatest and nothing else.
type TiantianClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewTiantianClient(baseURL string, timeout time.Duration) *TiantianClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TiantianClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *TiantianClient) Name() string { return tiantianName }

func (c *TiantianClient) FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error) {
	return nil, ErrNotSupported
}

func (c *TiantianClient) FetchMetadata(ctx context.Context, code string) (*models.FundMetadata, error) {
	return nil, ErrNotSupported
}

// estimatePayload is the body of the jsonp wrapper the feed returns.
type estimatePayload struct {
	Code      string `json:"fundcode"`
	Name      string `json:"name"`
	NAVDate   string `json:"jzrq"`
	NAV       string `json:"dwjz"`
	Estimate  string `json:"gsz"`
	EstGrowth string `json:"gszzl"`
	EstTime   string `json:"gztime"`
}

func (c *TiantianClient) FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/js/%s.js", c.baseURL, code), nil)
	if err != nil {
		return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest", Err: err}
	}

	payload, err := stripJSONP(string(body))
	if err != nil {
		return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest", Err: err}
	}

	var est estimatePayload
	if err := json.Unmarshal([]byte(payload), &est); err != nil {
		return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest",
			Err: fmt.Errorf("malformed estimate payload: %w", err)}
	}
	if est.Code == "" {
		return nil, ErrNoData
	}

	nav, err := decimal.NewFromString(est.NAV)
	if err != nil {
		return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest",
			Err: fmt.Errorf("malformed nav %q: %w", est.NAV, err)}
	}
	estimate := nav
	if est.Estimate != "" {
		if estimate, err = decimal.NewFromString(est.Estimate); err != nil {
			return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest",
				Err: fmt.Errorf("malformed estimate %q: %w", est.Estimate, err)}
		}
	}
	growth := decimal.Zero
	if est.EstGrowth != "" {
		if growth, err = decimal.NewFromString(est.EstGrowth); err != nil {
			return nil, &ProviderError{Provider: tiantianName, Op: "fetch_latest",
				Err: fmt.Errorf("malformed growth %q: %w", est.EstGrowth, err)}
		}
	}

	asOf := time.Now()
	if t, err := time.Parse("2006-01-02 15:04", est.EstTime); err == nil {
		asOf = t
	} else if t, err := time.Parse("2006-01-02", est.NAVDate); err == nil {
		asOf = t
	}

	return &models.LatestValuation{
		Code:      est.Code,
		NAV:       nav,
		Estimate:  estimate,
		ChangePct: growth,
		Source:    tiantianName,
		AsOf:      asOf,
	}, nil
}

// stripJSONP unwraps `jsonpgz({...});` into its JSON body.
func stripJSONP(s string) (string, error) {
	open := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if open < 0 || end < 0 || end <= open {
		return "", fmt.Errorf("not a jsonp payload: %q", truncate(s, 80))
	}
	return s[open+1 : end], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
