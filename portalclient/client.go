// Package portalclient is a typed client for the portal HTTP API.
package portalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/session"
	"go.uber.org/zap"
)

// Config controls how the Client behaves.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the portal API on behalf of the member in a Session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.Session
	log        *zap.Logger
}

// New creates a Client. The session is shared, not copied.
func New(cfg Config, sess *session.Session) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("portalclient: base URL is required")
	}
	if sess == nil {
		return nil, errors.New("portalclient: session is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, session: sess, log: log}, nil
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *session.Session {
	return c.session
}

// APIError is a non-2xx response from the portal.
type APIError struct {
	StatusCode int    `json:"-"`
	Err        string `json:"error"`
	Message    string `json:"message"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if t := e.Text(); t != "" {
		return fmt.Sprintf("portalclient: %s (status=%d)", t, e.StatusCode)
	}
	return fmt.Sprintf("portalclient: http status %d", e.StatusCode)
}

// Text is the server's human-readable explanation.
func (e *APIError) Text() string {
	if e.Message != "" && e.StatusCode >= 500 {
		return e.Message
	}
	if e.Err != "" {
		return e.Err
	}
	return e.Message
}

func decodeAPIError(status int, body []byte) error {
	parsed := &APIError{}
	if err := json.Unmarshal(body, parsed); err != nil {
		return &APIError{StatusCode: status, Err: strings.TrimSpace(string(body))}
	}
	parsed.StatusCode = status
	return parsed
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	public      bool
}

func jsonRequest(method, path string, payload interface{}) (request, error) {
	req := request{method: method, path: path}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return req, fmt.Errorf("portalclient: encode request: %w", err)
		}
		req.body = raw
		req.contentType = "application/json"
	}
	return req, nil
}

func (c *Client) invoke(ctx context.Context, r request, out interface{}) error {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+"/"+strings.TrimLeft(r.path, "/"), body)
	if err != nil {
		return fmt.Errorf("portalclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if !r.public {
		if err := c.session.Authorize(req); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("portalclient: http error: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("portalclient: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp.StatusCode, data)
		if resp.StatusCode == http.StatusUnauthorized && !r.public {
			c.log.Info("token rejected, signing out", zap.String("path", r.path))
			c.session.Logout()
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("portalclient: decode response: %w", err)
	}
	return nil
}

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Password    string `json:"password"`
}

// AuthResult is returned by Signup and Login.
type AuthResult struct {
	Token        string         `json:"token"`
	RefreshToken string         `json:"refreshToken"`
	User         models.Profile `json:"user"`
}

// Signup creates an account and signs the session in.
func (c *Client) Signup(ctx context.Context, in SignupRequest) (*AuthResult, error) {
	req, err := jsonRequest(http.MethodPost, "/api/auth/signup", in)
	if err != nil {
		return nil, err
	}
	req.public = true
	return c.authenticate(ctx, req)
}

// Login exchanges credentials for a token and signs the session in.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	req, err := jsonRequest(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	req.public = true
	return c.authenticate(ctx, req)
}

func (c *Client) authenticate(ctx context.Context, req request) (*AuthResult, error) {
	var res AuthResult
	if err := c.invoke(ctx, req, &res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, errors.New("portalclient: login response has no token")
	}
	res.User = Normalize(res.User)
	c.session.Login(res.Token, res.User)
	return &res, nil
}

// Logout tells the server and always clears the session.
func (c *Client) Logout(ctx context.Context) error {
	defer c.session.Logout()
	if !c.session.SignedIn() {
		return nil
	}
	return c.invoke(ctx, request{method: http.MethodPost, path: "/api/auth/logout"}, nil)
}

// Profile fetches the signed-in member's profile, normalized. The session's
// cached profile is left to the caller.
func (c *Client) Profile(ctx context.Context) (models.Profile, error) {
	var p models.Profile
	if err := c.invoke(ctx, request{method: http.MethodGet, path: "/api/user"}, &p); err != nil {
		return models.Profile{}, err
	}
	return Normalize(p), nil
}

// Photo is an identity photo to upload.
type Photo struct {
	Data        []byte
	FileName    string
	ContentType string
}

// ProfileUpdate carries the fields the onboarding flow edits. A nil Photo
// leaves the stored photo alone.
type ProfileUpdate struct {
	PreferredBarber string
	DrinkOfChoice   string
	Photo           *Photo
}

// UpdateProfile sends a multipart profile update and returns the saved
// profile. Like Profile it does not touch the session's cached profile.
func (c *Client) UpdateProfile(ctx context.Context, in ProfileUpdate) (models.Profile, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("preferredBarber", in.PreferredBarber); err != nil {
		return models.Profile{}, fmt.Errorf("portalclient: write field: %w", err)
	}
	if err := w.WriteField("drinkOfChoice", in.DrinkOfChoice); err != nil {
		return models.Profile{}, fmt.Errorf("portalclient: write field: %w", err)
	}
	if in.Photo != nil && len(in.Photo.Data) > 0 {
		contentType := in.Photo.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(in.Photo.Data)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photoID"; filename=%q`, in.Photo.FileName))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return models.Profile{}, fmt.Errorf("portalclient: create form file: %w", err)
		}
		if _, err := part.Write(in.Photo.Data); err != nil {
			return models.Profile{}, fmt.Errorf("portalclient: copy photo: %w", err)
		}
		if err := w.WriteField("photoIDName", in.Photo.FileName); err != nil {
			return models.Profile{}, fmt.Errorf("portalclient: write field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return models.Profile{}, fmt.Errorf("portalclient: close multipart writer: %w", err)
	}

	var res struct {
		Message string         `json:"message"`
		User    models.Profile `json:"user"`
	}
	req := request{method: http.MethodPut, path: "/api/user/update", body: buf.Bytes(), contentType: w.FormDataContentType()}
	if err := c.invoke(ctx, req, &res); err != nil {
		return models.Profile{}, err
	}
	return Normalize(res.User), nil
}

// Appointments lists the signed-in member's appointments.
func (c *Client) Appointments(ctx context.Context) ([]models.Appointment, error) {
	var list []models.Appointment
	if err := c.invoke(ctx, request{method: http.MethodGet, path: "/api/appointments"}, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Appointment{}
	}
	return list, nil
}

// UpdatesURL is the push channel URL for the signed-in member.
func (c *Client) UpdatesURL() (string, error) {
	token := c.session.Token()
	if token == "" {
		return "", session.ErrSignedOut
	}
	return c.baseURL + "/api/appointments/updates?token=" + url.QueryEscape(token), nil
}
