package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Source fetches a live USD price for one secondary unit. A single network
// call, no side effects, no retries.
type Source interface {
	FetchRate(ctx context.Context, pair string) (decimal.Decimal, error)
}

// OKXSource reads the last traded price of a market pair from the OKX
// public ticker endpoint, e.g. instId "TRX-USDT".
type OKXSource struct {
	baseURL    string
	httpClient *http.Client
}

func CreateOKXSource(timeout time.Duration) *OKXSource {
	return &OKXSource{
		baseURL: "https://www.okx.com",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type okxTickerResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
	} `json:"data"`
}

func (s *OKXSource) FetchRate(ctx context.Context, pair string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", s.baseURL, pair)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var result okxTickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}
	if len(result.Data) == 0 {
		return decimal.Zero, fmt.Errorf("no ticker data for %s", pair)
	}

	rate, err := decimal.NewFromString(result.Data[0].Last)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", result.Data[0].Last, err)
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive rate for %s", pair)
	}

	return rate, nil
}
