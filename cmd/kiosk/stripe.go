package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/armonempire/portal/checkout"
)

const defaultStripeURL = "https://api.stripe.com"

// stripeSDK confirms payments with the publishable key, the way the card
// widget does in the browser. The kiosk has no card reader, so the payment
// method is a fixed token such as a Stripe test card.
type stripeSDK struct {
	baseURL        string
	publishableKey string
	paymentMethod  string
	httpClient     *http.Client
}

func newStripeSDK(publishableKey, paymentMethod string) *stripeSDK {
	return &stripeSDK{
		baseURL:        defaultStripeURL,
		publishableKey: publishableKey,
		paymentMethod:  paymentMethod,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *stripeSDK) WithBaseURL(u string) *stripeSDK {
	if u != "" {
		s.baseURL = strings.TrimRight(u, "/")
	}
	return s
}

func (s *stripeSDK) Validate(context.Context) error {
	if !strings.HasPrefix(s.paymentMethod, "pm_") {
		return &checkout.SDKError{Code: "invalid_payment_method", Message: "No card on file for this kiosk"}
	}
	return nil
}

func (s *stripeSDK) CreatePaymentMethod(context.Context, string) (string, error) {
	return s.paymentMethod, nil
}

type intentReply struct {
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ConfirmPayment confirms the intent named by clientSecret and returns its
// status.
func (s *stripeSDK) ConfirmPayment(ctx context.Context, clientSecret string) (string, error) {
	id, _, ok := strings.Cut(clientSecret, "_secret_")
	if !ok || id == "" {
		return "", &checkout.SDKError{Code: "invalid_client_secret", Message: "Malformed payment client secret"}
	}

	form := url.Values{}
	form.Set("client_secret", clientSecret)
	form.Set("payment_method", s.paymentMethod)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/payment_intents/"+url.PathEscape(id)+"/confirm", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.publishableKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stripe: confirm: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("stripe: confirm: %w", err)
	}

	var reply intentReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("stripe: confirm: decode: %w", err)
	}
	if reply.Error != nil {
		return "", &checkout.SDKError{Code: reply.Error.Code, Message: reply.Error.Message}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("stripe: confirm: status %d", resp.StatusCode)
	}
	return reply.Status, nil
}
