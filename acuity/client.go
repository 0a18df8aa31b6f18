package acuity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("portal.acuity")

// ErrNotFound is returned when Acuity has no appointment with the given id.
var ErrNotFound = errors.New("acuity: appointment not found")

// DatetimeLayout is the format of Acuity's "datetime" field.
const DatetimeLayout = "2006-01-02T15:04:05-0700"

// Appointment is the subset of Acuity's appointment resource the portal mirrors.
type Appointment struct {
	ID        int64       `json:"id"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone"`
	Datetime  string      `json:"datetime"`
	Type      string      `json:"type"`
	Duration  json.Number `json:"duration"`
	Canceled  bool        `json:"canceled"`
}

// Start parses the appointment's start time.
func (a *Appointment) Start() (time.Time, error) {
	t, err := time.Parse(DatetimeLayout, a.Datetime)
	if err != nil {
		return time.Time{}, fmt.Errorf("acuity: bad datetime %q: %w", a.Datetime, err)
	}
	return t, nil
}

// Minutes returns the booked duration, zero when Acuity omits it.
func (a *Appointment) Minutes() int {
	n, err := a.Duration.Int64()
	if err != nil {
		return 0
	}
	return int(n)
}

// Client reads appointments from the Acuity Scheduling API.
type Client struct {
	userID     string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(userID, apiKey string) *Client {
	return &Client{
		userID:     userID,
		apiKey:     apiKey,
		baseURL:    "https://acuityscheduling.com/api/v1",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL overrides the API base URL (for testing).
func (c *Client) WithBaseURL(baseURL string) *Client {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// GetAppointment fetches one appointment by id.
func (c *Client) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "acuity.get_appointment")
	defer span.End()
	span.SetAttributes(attribute.String("acuity.appointment_id", id))

	endpoint := c.baseURL + "/appointments/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("acuity: request: %w", err)
	}
	req.SetBasicAuth(c.userID, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acuity: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("acuity: api status %d: %s", resp.StatusCode, string(body))
	}

	var appt Appointment
	if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
		return nil, fmt.Errorf("acuity: decode: %w", err)
	}
	return &appt, nil
}

// VerifySignature checks the X-Acuity-Signature header: base64 of the
// HMAC-SHA256 of the raw body keyed with the API key.
func VerifySignature(apiKey string, body []byte, signature string) bool {
	if apiKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// Sign computes the signature Acuity would send for body.
func Sign(apiKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
