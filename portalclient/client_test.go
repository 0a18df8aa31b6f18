package portalclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *session.Session) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	sess := session.New()
	c, err := New(Config{BaseURL: srv.URL + "/"}, sess)
	require.NoError(t, err)
	return c, sess
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, session.New())
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://portal.test"}, nil)
	assert.Error(t, err)
}

func TestLoginSignsSessionIn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "hunter22" {
			writeJSON(w, http.StatusUnauthorized, `{"error":"Invalid credentials"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"token":"tok","refreshToken":"ref","user":{"_id":3,"email":"Jay@Example.com"}}`)
	})
	c, sess := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.Login(ctx, "jay@example.com", "nope")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid credentials", apiErr.Text())
	assert.False(t, sess.SignedIn())

	res, err := c.Login(ctx, "jay@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "ref", res.RefreshToken)
	assert.Equal(t, "tok", sess.Token())
	u, ok := sess.User()
	require.True(t, ok)
	assert.Equal(t, "jay@example.com", u.Email)
	assert.Equal(t, models.TierFree, u.Membership)
	assert.NotNil(t, u.Appointments)
}

func TestProfileNormalizesAndRequiresSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"_id":3,"email":"jay@example.com","membership":"gold","dob":"1990-04-12T00:00:00.000Z"}`)
	})
	c, sess := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.Profile(ctx)
	assert.ErrorIs(t, err, session.ErrSignedOut)

	sess.Login("tok", models.Profile{ID: 3})
	p, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TierGold, p.Membership)
	assert.Equal(t, "1990-04-12", p.DOB)
	assert.Equal(t, models.PaymentNone, p.PaymentStatus)
	assert.Equal(t, []models.Appointment{}, p.Appointments)
	assert.Nil(t, p.PhotoID)

	cached, _ := sess.User()
	assert.Equal(t, models.Profile{ID: 3}, cached)
}

func TestUnauthorizedSignsOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/appointments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"Unauthorized","message":"Invalid or expired token"}`)
	})
	c, sess := newTestClient(t, mux)
	sess.Login("expired", models.Profile{})

	_, err := c.Appointments(context.Background())
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.False(t, sess.SignedIn())
}

func TestUpdateProfileMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user/update", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "Charles Armon", r.FormValue("preferredBarber"))
		assert.Equal(t, "Bourbon", r.FormValue("drinkOfChoice"))
		assert.Equal(t, "license.png", r.FormValue("photoIDName"))
		f, fh, err := r.FormFile("photoID")
		if assert.NoError(t, err) {
			defer f.Close()
			data, _ := io.ReadAll(f)
			assert.Equal(t, "png-bytes", string(data))
			assert.Equal(t, "image/png", fh.Header.Get("Content-Type"))
		}
		writeJSON(w, http.StatusOK, `{"message":"Profile updated successfully","user":{"_id":3,"preferredBarber":"Charles Armon","drinkOfChoice":"Bourbon","photoId":{"contentType":"image/png","fileName":"license.png"}}}`)
	})
	c, sess := newTestClient(t, mux)
	sess.Login("tok", models.Profile{ID: 3})

	p, err := c.UpdateProfile(context.Background(), ProfileUpdate{
		PreferredBarber: "Charles Armon",
		DrinkOfChoice:   "Bourbon",
		Photo:           &Photo{Data: []byte("png-bytes"), FileName: "license.png", ContentType: "image/png"},
	})
	require.NoError(t, err)
	assert.True(t, HasPhoto(p))
	assert.Equal(t, "Bourbon", p.DrinkOfChoice)
}

func TestSubscriptionCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stripe/create-subscription", func(w http.ResponseWriter, r *http.Request) {
		var body SubscriptionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, models.TierGold, body.Membership)
		if body.PaymentMethodID == "pm_bad" {
			writeJSON(w, http.StatusBadRequest, `{"error":"No payment intent available for the invoice","details":"No payment intent available for the invoice"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"status":"requires_confirmation","clientSecret":"pi_secret","subscriptionId":"sub_1"}`)
	})
	mux.HandleFunc("/api/stripe/verify-subscription/sub_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"active"}`)
	})
	mux.HandleFunc("/api/stripe/get-payment-method", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"paymentMethod":null}`)
	})
	c, sess := newTestClient(t, mux)
	sess.Login("tok", models.Profile{})
	ctx := context.Background()

	res, err := c.CreateSubscription(ctx, SubscriptionRequest{Email: "jay@example.com", Membership: models.TierGold, PaymentMethodID: "pm_1"})
	require.NoError(t, err)
	assert.Equal(t, StatusRequiresConfirmation, res.Status)
	assert.Equal(t, "pi_secret", res.ClientSecret)

	_, err = c.CreateSubscription(ctx, SubscriptionRequest{Email: "jay@example.com", Membership: models.TierGold, PaymentMethodID: "pm_bad"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "No payment intent available for the invoice", apiErr.Text())

	status, err := c.VerifySubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)

	pm, err := c.PaymentMethod(ctx)
	require.NoError(t, err)
	assert.Nil(t, pm)
}

func TestUpdatesURL(t *testing.T) {
	c, sess := newTestClient(t, http.NewServeMux())
	_, err := c.UpdatesURL()
	assert.ErrorIs(t, err, session.ErrSignedOut)

	sess.Login("a b", models.Profile{})
	u, err := c.UpdatesURL()
	require.NoError(t, err)
	assert.Contains(t, u, "/api/appointments/updates?token=a+b")
}

func TestAPIErrorPrefersMessageOnServerErrors(t *testing.T) {
	err := decodeAPIError(500, []byte(`{"message":"Failed to update profile","error":"pq: connection refused"}`))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Failed to update profile", apiErr.Text())

	err = decodeAPIError(502, []byte("bad gateway"))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad gateway", apiErr.Text())
}

func TestNormalizeKeepsCalendarDateOfOffsetTimestamps(t *testing.T) {
	tests := map[string]string{
		"2004-10-19T20:00:00-05:00": "2004-10-19",
		"2004-10-19T01:00:00+09:00": "2004-10-19",
		"1990-04-12T00:00:00.000Z":  "1990-04-12",
		"1990-04-12":                "1990-04-12",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(models.Profile{DOB: in}).DOB, in)
	}
}
