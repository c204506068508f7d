package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qiwenlee/fundflow/internal/models"
)

const sinaName = "sina"

// SinaClient reads the quote line feed. The feed carries the fund name,
// the latest confirmed NAV, the prior NAV and the quote date in one
// comma-separated line, so it can serve FetchLatest and FetchMetadata
// but has no history.
type SinaClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewSinaClient(baseURL string, timeout time.Duration) *SinaClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SinaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *SinaClient) Name() string { return sinaName }

func (c *SinaClient) FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error) {
	return nil, ErrNotSupported
}

// quoteLine fetches and splits the raw feed line for code.
// Format: var hq_str_f_<code>="<name>,<nav>,<accum_nav>,<prev_nav>,<date>";
func (c *SinaClient) quoteLine(ctx context.Context, code string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/list=f_%s", c.baseURL, code), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return nil, err
	}

	raw := string(body)
	start := strings.Index(raw, `"`)
	end := strings.LastIndex(raw, `"`)
	if start < 0 || end <= start {
		return nil, fmt.Errorf("malformed quote line: %q", truncate(raw, 80))
	}
	inner := raw[start+1 : end]
	if inner == "" {
		return nil, ErrNoData
	}
	return strings.Split(inner, ","), nil
}

func (c *SinaClient) FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	fields, err := c.quoteLine(ctx, code)
	if err != nil {
		if err == ErrNoData {
			return nil, err
		}
		return nil, &ProviderError{Provider: sinaName, Op: "fetch_latest", Err: err}
	}
	if len(fields) < 5 {
		return nil, &ProviderError{Provider: sinaName, Op: "fetch_latest",
			Err: fmt.Errorf("quote line has %d fields, want 5", len(fields))}
	}

	nav, err := decimal.NewFromString(fields[1])
	if err != nil {
		return nil, &ProviderError{Provider: sinaName, Op: "fetch_latest",
			Err: fmt.Errorf("malformed nav %q: %w", fields[1], err)}
	}
	prev, err := decimal.NewFromString(fields[3])
	if err != nil {
		return nil, &ProviderError{Provider: sinaName, Op: "fetch_latest",
			Err: fmt.Errorf("malformed prior nav %q: %w", fields[3], err)}
	}

	changePct := decimal.Zero
	if !prev.IsZero() {
		changePct = nav.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	}

	asOf := time.Now()
	if t, err := time.Parse("2006-01-02", fields[4]); err == nil {
		asOf = t
	}

	return &models.LatestValuation{
		Code:      code,
		NAV:       nav,
		Estimate:  nav,
		ChangePct: changePct,
		Source:    sinaName,
		AsOf:      asOf,
	}, nil
}

func (c *SinaClient) FetchMetadata(ctx context.Context, code string) (*models.FundMetadata, error) {
	fields, err := c.quoteLine(ctx, code)
	if err != nil {
		if err == ErrNoData {
			return nil, err
		}
		return nil, &ProviderError{Provider: sinaName, Op: "fetch_metadata", Err: err}
	}
	if len(fields) < 1 || fields[0] == "" {
		return nil, ErrNoData
	}
	return &models.FundMetadata{
		Code:   code,
		Name:   fields[0],
		Source: sinaName,
	}, nil
}
