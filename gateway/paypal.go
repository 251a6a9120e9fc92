package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"botpay/utils"
	"github.com/shopspring/decimal"
)

// PayPalClient drives the PayPal Orders v2 checkout flow: create an order,
// redirect the buyer to the approve link, capture after approval.
type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalClient(baseURL, clientID, clientSecret string, timeout time.Duration) *PayPalClient {
	return &PayPalClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *PayPalClient) GetName() string {
	return "paypal"
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalOrderResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

// getAccessToken returns a cached OAuth token, fetching a new one when the
// cached token is within a minute of expiry.
func (c *PayPalClient) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	var token paypalTokenResponse
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.clientID, c.clientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("paypal token request returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&token)
	})
	if err != nil {
		return "", utils.WrapError(err, "failed to obtain paypal access token")
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *PayPalClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, description string) (string, string, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return "", "", err
	}

	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"description": description,
				"amount": map[string]string{
					"currency_code": currency,
					"value":         amount.StringFixed(2),
				},
			},
		},
	}

	var order paypalOrderResponse
	if err := c.post(ctx, token, "/v2/checkout/orders", body, &order); err != nil {
		return "", "", err
	}

	approvalURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approvalURL = link.Href
			break
		}
	}
	if order.ID == "" || approvalURL == "" {
		return "", "", utils.WrapError(utils.ErrGatewayUnavailable, "paypal order response missing id or approve link")
	}

	return order.ID, approvalURL, nil
}

func (c *PayPalClient) ExecuteOrder(ctx context.Context, orderID, payerID string) (string, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return "", err
	}

	var order paypalOrderResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	if err := c.post(ctx, token, path, map[string]interface{}{}, &order); err != nil {
		return "", err
	}

	for _, unit := range order.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if capture.Status == "COMPLETED" {
				return capture.ID, nil
			}
		}
	}
	if order.Status == "COMPLETED" {
		return order.ID, nil
	}

	return "", &RejectionError{
		Provider: "paypal",
		Code:     order.Status,
		Message:  "capture did not complete",
	}
}

func (c *PayPalClient) post(ctx context.Context, token, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.WrapError(utils.ErrGatewayUnavailable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return json.Unmarshal(raw, out)
	}

	var apiErr paypalErrorResponse
	_ = json.Unmarshal(raw, &apiErr)

	for _, detail := range apiErr.Details {
		if detail.Issue == "ORDER_ALREADY_CAPTURED" {
			return ErrAlreadyCaptured
		}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &RejectionError{
			Provider: "paypal",
			Code:     apiErr.Name,
			Message:  apiErr.Message,
		}
	}
	return utils.WrapError(utils.ErrGatewayUnavailable,
		fmt.Sprintf("paypal returned status %d", resp.StatusCode))
}
