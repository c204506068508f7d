package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qiwenlee/fundflow/internal/models"
)

const eastmoneyName = "eastmoney"

// EastmoneyClient talks to the eastmoney fund API. It is the only
// adapter with the full capability set, including the bulk universe
// endpoint used for one-call-per-day batch resolution.
type EastmoneyClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewEastmoneyClient(baseURL string, timeout time.Duration) *EastmoneyClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EastmoneyClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *EastmoneyClient) Name() string { return eastmoneyName }

// navRow mirrors one row of the historical NAV endpoint. All numeric
// fields arrive as strings; JZZZL (daily growth) may be empty on the
// fund's first listing day.
type navRow struct {
	Date     string `json:"FSRQ"`
	NAV      string `json:"DWJZ"`
	AccumNAV string `json:"LJJZ"`
	Growth   string `json:"JZZZL"`
}

type navResponse struct {
	Data struct {
		List []navRow `json:"LSJZList"`
	} `json:"Data"`
	ErrCode int    `json:"ErrCode"`
	ErrMsg  string `json:"ErrMsg"`
}

func (c *EastmoneyClient) FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error) {
	if lookback <= 0 {
		lookback = 30
	}

	q := url.Values{}
	q.Set("fundCode", code)
	q.Set("pageIndex", "1")
	q.Set("pageSize", fmt.Sprintf("%d", lookback))

	var resp navResponse
	if err := c.getJSON(ctx, "/f10/lsjz?"+q.Encode(), &resp); err != nil {
		return nil, &ProviderError{Provider: eastmoneyName, Op: "fetch_series", Err: err}
	}
	if resp.ErrCode != 0 {
		return nil, &ProviderError{Provider: eastmoneyName, Op: "fetch_series",
			Err: fmt.Errorf("upstream error %d: %s", resp.ErrCode, resp.ErrMsg)}
	}
	if len(resp.Data.List) == 0 {
		return nil, ErrNoData
	}

	points := make([]models.ValuationPoint, 0, len(resp.Data.List))
	for _, row := range resp.Data.List {
		p, err := row.toPoint(code)
		if err != nil {
			return nil, &ProviderError{Provider: eastmoneyName, Op: "fetch_series", Err: err}
		}
		points = append(points, p)
	}

	// Upstream lists newest first; callers always get ascending.
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

func (r navRow) toPoint(code string) (models.ValuationPoint, error) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return models.ValuationPoint{}, fmt.Errorf("malformed date %q: %w", r.Date, err)
	}
	nav, err := decimal.NewFromString(r.NAV)
	if err != nil {
		return models.ValuationPoint{}, fmt.Errorf("malformed nav %q: %w", r.NAV, err)
	}
	accum := nav
	if r.AccumNAV != "" {
		if accum, err = decimal.NewFromString(r.AccumNAV); err != nil {
			return models.ValuationPoint{}, fmt.Errorf("malformed accum nav %q: %w", r.AccumNAV, err)
		}
	}
	growth := decimal.Zero
	if r.Growth != "" {
		if growth, err = decimal.NewFromString(r.Growth); err != nil {
			return models.ValuationPoint{}, fmt.Errorf("malformed growth %q: %w", r.Growth, err)
		}
	}
	return models.ValuationPoint{
		Code:        code,
		Date:        date,
		NAV:         nav,
		AccumNAV:    accum,
		DailyReturn: growth,
		Source:      eastmoneyName,
	}, nil
}

func (c *EastmoneyClient) FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	points, err := c.FetchSeries(ctx, code, 1)
	if err != nil {
		return nil, err
	}
	last := points[len(points)-1]
	return &models.LatestValuation{
		Code:      code,
		NAV:       last.NAV,
		Estimate:  last.NAV,
		ChangePct: last.DailyReturn,
		Source:    eastmoneyName,
		AsOf:      last.Date,
	}, nil
}

type metadataResponse struct {
	Data struct {
		Code     string `json:"FCODE"`
		Name     string `json:"SHORTNAME"`
		Type     string `json:"FTYPE"`
		Currency string `json:"CURRENCY"`
	} `json:"Data"`
	ErrCode int `json:"ErrCode"`
}

func (c *EastmoneyClient) FetchMetadata(ctx context.Context, code string) (*models.FundMetadata, error) {
	var resp metadataResponse
	if err := c.getJSON(ctx, "/f10/jbgk?fundCode="+url.QueryEscape(code), &resp); err != nil {
		return nil, &ProviderError{Provider: eastmoneyName, Op: "fetch_metadata", Err: err}
	}
	if resp.ErrCode != 0 || resp.Data.Code == "" {
		return nil, ErrNoData
	}
	return &models.FundMetadata{
		Code:     resp.Data.Code,
		Name:     resp.Data.Name,
		Type:     resp.Data.Type,
		Currency: resp.Data.Currency,
		Source:   eastmoneyName,
	}, nil
}

type universeRow struct {
	Code   string `json:"FCODE"`
	NAV    string `json:"DWJZ"`
	Growth string `json:"JZZZL"`
	Date   string `json:"FSRQ"`
}

type universeResponse struct {
	Data    []universeRow `json:"Data"`
	ErrCode int           `json:"ErrCode"`
}

// FetchUniverse pulls the latest value of every listed fund as of day.
// One call covers the whole universe, so batch lookups cost a single
// rate-budget slot instead of one per instrument.
func (c *EastmoneyClient) FetchUniverse(ctx context.Context, day time.Time) (map[string]*models.LatestValuation, error) {
	var resp universeResponse
	path := "/f10/universe?date=" + url.QueryEscape(day.Format("2006-01-02"))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, &ProviderError{Provider: eastmoneyName, Op: "fetch_universe", Err: err}
	}
	if resp.ErrCode != 0 {
		return nil, &ProviderError{Provider: eastmoneyName, Op: "fetch_universe",
			Err: fmt.Errorf("upstream error %d", resp.ErrCode)}
	}

	out := make(map[string]*models.LatestValuation, len(resp.Data))
	for _, row := range resp.Data {
		nav, err := decimal.NewFromString(row.NAV)
		if err != nil {
			continue // skip malformed rows, keep the rest of the universe
		}
		growth := decimal.Zero
		if row.Growth != "" {
			if growth, err = decimal.NewFromString(row.Growth); err != nil {
				continue
			}
		}
		asOf, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			asOf = day
		}
		out[row.Code] = &models.LatestValuation{
			Code:      row.Code,
			NAV:       nav,
			Estimate:  nav,
			ChangePct: growth,
			Source:    eastmoneyName,
			AsOf:      asOf,
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (c *EastmoneyClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Referer", "https://fund.eastmoney.com/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
