package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var stripeTracer = otel.Tracer("portal.payments.stripe")

// StripeError is an error body returned by the Stripe API.
type StripeError struct {
	StatusCode  int    `json:"-"`
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (%s)", e.Message, e.Code)
	}
	return "stripe: " + e.Message
}

// Customer is a Stripe customer.
type Customer struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	InvoiceSettings struct {
		DefaultPaymentMethod *PaymentMethod `json:"default_payment_method"`
	} `json:"invoice_settings"`
}

// Card holds the display fields of a card payment method.
type Card struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// PaymentMethod is a Stripe payment method. Unexpanded references decode into ID only.
type PaymentMethod struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Card *Card  `json:"card,omitempty"`
}

func (p *PaymentMethod) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &p.ID)
	}
	type plain PaymentMethod
	return json.Unmarshal(b, (*plain)(p))
}

// PaymentIntent is the part of a PaymentIntent the client needs to confirm it.
type PaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
}

func (p *PaymentIntent) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &p.ID)
	}
	type plain PaymentIntent
	return json.Unmarshal(b, (*plain)(p))
}

// Invoice is a Stripe invoice.
type Invoice struct {
	ID            string         `json:"id"`
	Customer      string         `json:"customer"`
	Subscription  string         `json:"subscription"`
	PaymentIntent *PaymentIntent `json:"payment_intent"`
}

func (i *Invoice) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &i.ID)
	}
	type plain Invoice
	return json.Unmarshal(b, (*plain)(i))
}

// SubscriptionItem is one price line on a subscription.
type SubscriptionItem struct {
	ID    string `json:"id"`
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

// Subscription is a Stripe subscription.
type Subscription struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Customer string `json:"customer"`
	Items    struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
	LatestInvoice *Invoice `json:"latest_invoice"`
}

// PriceID returns the price of the first item.
func (s *Subscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// SetupIntent collects a payment method for later use.
type SetupIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

func NewStripeClient(secretKey string) *StripeClient {
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-06-20",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (c *StripeClient) WithBaseURL(baseURL string) *StripeClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	ctx, span := stripeTracer.Start(ctx, "stripe."+strings.ToLower(method))
	defer span.End()
	span.SetAttributes(attribute.String("stripe.path", path))

	endpoint := c.baseURL + path
	var body io.Reader
	if form != nil {
		if method == http.MethodGet {
			endpoint += "?" + form.Encode()
		} else {
			body = strings.NewReader(form.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Stripe-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		var wrapped struct {
			Error *StripeError `json:"error"`
		}
		if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != nil {
			wrapped.Error.StatusCode = resp.StatusCode
			return wrapped.Error
		}
		return fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payments: stripe decode: %w", err)
	}
	return nil
}

// CreateCustomer creates a customer, optionally with a default payment method.
func (c *StripeClient) CreateCustomer(ctx context.Context, email, name, paymentMethodID string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	if name != "" {
		form.Set("name", name)
	}
	if paymentMethodID != "" {
		form.Set("payment_method", paymentMethodID)
		form.Set("invoice_settings[default_payment_method]", paymentMethodID)
	}
	var cus Customer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &cus); err != nil {
		return nil, err
	}
	return &cus, nil
}

// GetCustomer loads a customer with its default payment method expanded.
func (c *StripeClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	form := url.Values{}
	form.Add("expand[]", "invoice_settings.default_payment_method")
	var cus Customer
	if err := c.do(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), form, &cus); err != nil {
		return nil, err
	}
	return &cus, nil
}

// AttachPaymentMethod attaches a payment method to a customer.
func (c *StripeClient) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	form := url.Values{}
	form.Set("customer", customerID)
	return c.do(ctx, http.MethodPost, "/v1/payment_methods/"+url.PathEscape(paymentMethodID)+"/attach", form, nil)
}

// SetDefaultPaymentMethod makes the method the customer's invoice default.
func (c *StripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	form := url.Values{}
	form.Set("invoice_settings[default_payment_method]", paymentMethodID)
	return c.do(ctx, http.MethodPost, "/v1/customers/"+url.PathEscape(customerID), form, nil)
}

// CreateSubscription starts an incomplete subscription whose first invoice
// carries a PaymentIntent for the client to confirm.
func (c *StripeClient) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string) (*Subscription, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("items[0][price]", priceID)
	form.Set("payment_behavior", "default_incomplete")
	form.Set("payment_settings[save_default_payment_method]", "on_subscription")
	if paymentMethodID != "" {
		form.Set("default_payment_method", paymentMethodID)
	}
	form.Add("expand[]", "latest_invoice.payment_intent")
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", form, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscription loads a subscription.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ChangeSubscriptionPrice swaps the subscription's price with prorations.
func (c *StripeClient) ChangeSubscriptionPrice(ctx context.Context, sub *Subscription, priceID string) (*Subscription, error) {
	if len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("payments: subscription %s has no items", sub.ID)
	}
	form := url.Values{}
	form.Set("items[0][id]", sub.Items.Data[0].ID)
	form.Set("items[0][price]", priceID)
	form.Set("proration_behavior", "create_prorations")
	var updated Subscription
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(sub.ID), form, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetSubscriptionPaymentMethod changes the method future invoices are charged to.
func (c *StripeClient) SetSubscriptionPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID string) error {
	form := url.Values{}
	form.Set("default_payment_method", paymentMethodID)
	return c.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), form, nil)
}

// CancelSubscription cancels immediately.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSetupIntent prepares collection of a new card for the customer.
func (c *StripeClient) CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("usage", "off_session")
	form.Add("payment_method_types[]", "card")
	var si SetupIntent
	if err := c.do(ctx, http.MethodPost, "/v1/setup_intents", form, &si); err != nil {
		return nil, err
	}
	return &si, nil
}
