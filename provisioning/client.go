package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"botpay/utils"
)

// EntitlementRequest asks the fulfillment backend to grant a buyer access
// to a plan. PaymentReference doubles as the idempotency key, so replays
// for the same payment return the original entitlement.
type EntitlementRequest struct {
	BuyerID          string `json:"buyer_id"`
	PlanID           string `json:"plan_id"`
	DurationDays     int    `json:"duration_days"`
	PaymentReference string `json:"payment_reference"`
}

type EntitlementResponse struct {
	EntitlementID string `json:"entitlement_id"`
	Status        string `json:"status"`
}

type EntitlementService interface {
	Provision(ctx context.Context, req *EntitlementRequest) (*EntitlementResponse, error)
}

// PermanentError marks a provisioning failure that retrying cannot fix,
// such as a validation rejection. The task goes straight to review.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("provisioning rejected with status %d: %s", e.StatusCode, e.Message)
}

func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// HTTPEntitlementClient calls the fulfillment backend over HTTP behind a
// circuit breaker, so a struggling backend is not hammered by the retry
// worker.
type HTTPEntitlementClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *utils.CircuitBreaker
}

func NewHTTPEntitlementClient(baseURL, apiKey string, timeout time.Duration) *HTTPEntitlementClient {
	return &HTTPEntitlementClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: utils.CreateCircuitBreaker(5, 30*time.Second),
	}
}

func (c *HTTPEntitlementClient) Provision(ctx context.Context, req *EntitlementRequest) (*EntitlementResponse, error) {
	var result *EntitlementResponse
	var permanent error

	err := c.breaker.Execute(ctx, func() error {
		resp, err := c.doProvision(ctx, req)
		if err != nil {
			if IsPermanent(err) {
				// A rejection is a healthy backend saying no; it must
				// not count toward tripping the breaker.
				permanent = err
				return nil
			}
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	if permanent != nil {
		return nil, permanent
	}
	return result, nil
}

func (c *HTTPEntitlementClient) doProvision(ctx context.Context, req *EntitlementRequest) (*EntitlementResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/entitlements", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.PaymentReference)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, utils.WrapError(err, "provisioning request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result EntitlementResponse
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, utils.WrapError(err, "decode provisioning response")
		}
		if result.EntitlementID == "" {
			return nil, fmt.Errorf("provisioning response missing entitlement id")
		}
		return &result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, &PermanentError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	default:
		return nil, fmt.Errorf("provisioning returned status %d", resp.StatusCode)
	}
}
