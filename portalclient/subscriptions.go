package portalclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/armonempire/portal/models"
)

// Subscription statuses returned by create-subscription.
const (
	StatusActive               = "active"
	StatusRequiresConfirmation = "requires_confirmation"
)

// SubscriptionRequest is the body of create-subscription.
type SubscriptionRequest struct {
	Email           string      `json:"email"`
	Membership      models.Tier `json:"membership"`
	PaymentMethodID string      `json:"paymentMethodId"`
}

// SubscriptionResult is the create-subscription response.
type SubscriptionResult struct {
	Status         string `json:"status"`
	ClientSecret   string `json:"clientSecret"`
	SubscriptionID string `json:"subscriptionId"`
}

// Card is the display part of a saved card.
type Card struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// PaymentMethod is the member's default payment method.
type PaymentMethod struct {
	ID   string `json:"id"`
	Card *Card  `json:"card"`
}

// CreateSubscription starts, or moves, the member's paid membership.
func (c *Client) CreateSubscription(ctx context.Context, in SubscriptionRequest) (*SubscriptionResult, error) {
	req, err := jsonRequest(http.MethodPost, "/api/stripe/create-subscription", in)
	if err != nil {
		return nil, err
	}
	var res SubscriptionResult
	if err := c.invoke(ctx, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifySubscription returns the authoritative status of a subscription.
func (c *Client) VerifySubscription(ctx context.Context, subscriptionID string) (string, error) {
	var res struct {
		Status string `json:"status"`
	}
	path := "/api/stripe/verify-subscription/" + url.PathEscape(subscriptionID)
	if err := c.invoke(ctx, request{method: http.MethodGet, path: path}, &res); err != nil {
		return "", err
	}
	return res.Status, nil
}

// UpdateSubscription moves the member to another tier.
func (c *Client) UpdateSubscription(ctx context.Context, email string, tier models.Tier) (models.Tier, error) {
	req, err := jsonRequest(http.MethodPost, "/api/stripe/update-subscription", map[string]string{
		"email":         email,
		"newMembership": string(tier),
	})
	if err != nil {
		return "", err
	}
	var res struct {
		Membership models.Tier `json:"membership"`
	}
	if err := c.invoke(ctx, req, &res); err != nil {
		return "", err
	}
	return res.Membership, nil
}

// CancelSubscription drops the member to Free.
func (c *Client) CancelSubscription(ctx context.Context, email string) error {
	req, err := jsonRequest(http.MethodPost, "/api/stripe/cancel-subscription", map[string]string{"email": email})
	if err != nil {
		return err
	}
	return c.invoke(ctx, req, nil)
}

// PaymentMethod returns the default card, nil when none is on file.
func (c *Client) PaymentMethod(ctx context.Context) (*PaymentMethod, error) {
	var res struct {
		PaymentMethod *PaymentMethod `json:"paymentMethod"`
	}
	if err := c.invoke(ctx, request{method: http.MethodGet, path: "/api/stripe/get-payment-method"}, &res); err != nil {
		return nil, err
	}
	return res.PaymentMethod, nil
}

// UpdatePaymentMethod makes paymentMethodID the default for future invoices.
func (c *Client) UpdatePaymentMethod(ctx context.Context, email, paymentMethodID string) error {
	req, err := jsonRequest(http.MethodPost, "/api/stripe/update-payment-method", map[string]string{
		"email":           email,
		"paymentMethodId": paymentMethodID,
	})
	if err != nil {
		return err
	}
	return c.invoke(ctx, req, nil)
}

// SetupIntent returns the client secret for collecting a replacement card.
func (c *Client) SetupIntent(ctx context.Context) (string, error) {
	var res struct {
		ClientSecret string `json:"clientSecret"`
	}
	if err := c.invoke(ctx, request{method: http.MethodPost, path: "/api/stripe/setup-intent"}, &res); err != nil {
		return "", err
	}
	return res.ClientSecret, nil
}
