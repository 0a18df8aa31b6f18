package controllers

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/armonempire/portal/acuity"
	"github.com/armonempire/portal/db/dbtest"
	"github.com/armonempire/portal/middleware"
	"github.com/armonempire/portal/models"
	portalredis "github.com/armonempire/portal/redis"
	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acuityKey = "acuity-key"

type remoteAppointments map[string]*acuity.Appointment

func (r remoteAppointments) GetAppointment(_ context.Context, id string) (*acuity.Appointment, error) {
	a, ok := r[id]
	if !ok {
		return nil, acuity.ErrNotFound
	}
	return a, nil
}

type appointmentFixture struct {
	app     *fiber.App
	ctrl    *AppointmentController
	members *dbtest.Members
	appts   *dbtest.Appointments
	remote  remoteAppointments
}

func newAppointmentApp(t *testing.T, appts ...models.Appointment) *appointmentFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	members := dbtest.NewMembers(
		models.User{Email: "jay@example.com", FirstName: "Jay"},
		models.User{Email: "sam@example.com", FirstName: "Sam"},
	)
	store := dbtest.NewAppointments(appts...)
	remote := remoteAppointments{}
	broker := portalredis.NewBroker(rdb, nil)
	syncer := acuity.NewSyncer(remote, members, store, broker, nil)
	ctrl := NewAppointmentController(store, broker, syncer, acuityKey, nil, nil)
	ctrl.heartbeat = 50 * time.Millisecond

	app := newTestApp()
	group := app.Group("/api/appointments")
	group.Get("/", middleware.Protected(testSecret), ctrl.GetAppointments)
	group.Get("/updates", middleware.ProtectedStream(testSecret), ctrl.StreamUpdates)
	group.Post("/webhooks/acuity", ctrl.AcuityWebhook)
	return &appointmentFixture{app: app, ctrl: ctrl, members: members, appts: store, remote: remote}
}

func (f *appointmentFixture) token(t *testing.T, id uint) string {
	u, err := f.members.ByID(context.Background(), id)
	require.NoError(t, err)
	return tokenFor(t, u)
}

func (f *appointmentFixture) webhook(t *testing.T, action, id, signature string) (*http.Response, map[string]interface{}) {
	t.Helper()
	body := url.Values{"action": {action}, "id": {id}}.Encode()
	if signature == "" {
		signature = acuity.Sign(acuityKey, []byte(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/webhooks/acuity", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Acuity-Signature", signature)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp, decodeMap(t, resp)
}

func TestGetAppointmentsScopedToCaller(t *testing.T) {
	start := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)
	f := newAppointmentApp(t,
		models.Appointment{AcuityAppointmentID: "1", UserID: 1, Datetime: start, Service: "Cut", Status: models.StatusScheduled},
		models.Appointment{AcuityAppointmentID: "2", UserID: 2, Datetime: start, Service: "Shave", Status: models.StatusScheduled},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, 1))
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Appointment
	require.NoError(t, decodeJSON(resp, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].AcuityAppointmentID)
}

func TestGetAppointmentsEmptyList(t *testing.T) {
	f := newAppointmentApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, 2))
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	var raw []interface{}
	require.NoError(t, decodeJSON(resp, &raw))
	assert.NotNil(t, raw)
	assert.Empty(t, raw)
}

func TestAcuityWebhook(t *testing.T) {
	f := newAppointmentApp(t)
	f.remote["77"] = &acuity.Appointment{ID: 77, Email: "jay@example.com", Datetime: "2026-03-01T10:00:00-0600", Type: "Cut", Duration: "30"}
	f.remote["88"] = &acuity.Appointment{ID: 88, Email: "stranger@example.com", Datetime: "2026-03-01T10:00:00-0600", Type: "Cut"}

	resp, _ := f.webhook(t, "appointment.scheduled", "77", "bm9wZQ==")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.webhook(t, "appointment.scheduled", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.webhook(t, "appointment.scheduled", "88", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ignored", body["status"])

	resp, body = f.webhook(t, "appointment.scheduled", "404", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", body["status"])

	resp, body = f.webhook(t, "appointment.scheduled", "77", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	stored, err := f.appts.ByAcuityID(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, uint(1), stored.UserID)
	assert.Equal(t, models.StatusScheduled, stored.Status)

	f.remote["77"].Canceled = true
	resp, _ = f.webhook(t, "appointment.canceled", "77", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.remote["77"].Canceled = false
	resp, body = f.webhook(t, "appointment.rescheduled", "77", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", body["status"])
	stored, _ = f.appts.ByAcuityID(context.Background(), "77")
	assert.Equal(t, models.StatusCanceled, stored.Status)
}

func TestStreamUpdatesDeliversMemberEvents(t *testing.T) {
	f := newAppointmentApp(t)
	f.remote["77"] = &acuity.Appointment{ID: 77, Email: "jay@example.com", Datetime: "2026-03-01T10:00:00-0600", Type: "Cut", Duration: "30"}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = f.app.Listener(ln) }()
	t.Cleanup(func() { _ = f.app.ShutdownWithTimeout(2 * time.Second) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamURL := "http://" + ln.Addr().String() + "/api/appointments/updates?token=" + f.token(t, 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		r := bufio.NewReader(resp.Body)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimRight(line, "\n")
		}
	}()

	require.Equal(t, ": connected", waitLine(t, lines, func(string) bool { return true }))

	webhookResp, _ := f.webhook(t, "appointment.scheduled", "77", "")
	require.Equal(t, http.StatusOK, webhookResp.StatusCode)

	data := waitLine(t, lines, func(l string) bool { return strings.HasPrefix(l, "data: ") })
	assert.Contains(t, data, `"acuityAppointmentId":"77"`)
	assert.Contains(t, data, `"status":"Scheduled"`)

	ping := waitLine(t, lines, func(l string) bool { return l == ": ping" })
	assert.Equal(t, ": ping", ping)
}

func TestStreamUpdatesEndsWithServerContext(t *testing.T) {
	f := newAppointmentApp(t)
	serverCtx, stop := context.WithCancel(context.Background())
	defer stop()
	f.ctrl.WithContext(serverCtx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = f.app.Listener(ln) }()
	t.Cleanup(func() { _ = f.app.ShutdownWithTimeout(2 * time.Second) })

	streamURL := "http://" + ln.Addr().String() + "/api/appointments/updates?token=" + f.token(t, 1)
	resp, err := http.Get(streamURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		r := bufio.NewReader(resp.Body)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimRight(line, "\n")
		}
	}()
	require.Equal(t, ": connected", waitLine(t, lines, func(string) bool { return true }))

	stop()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream stayed open after the server context ended")
		}
	}
}

func TestStreamUpdatesRequiresQueryToken(t *testing.T) {
	f := newAppointmentApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments/updates", nil)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func waitLine(t *testing.T, lines <-chan string, match func(string) bool) string {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if match(l) {
				return l
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream line")
		}
	}
}

var errStubFetch = errors.New("acuity unavailable")

type failingFetcher struct{}

func (failingFetcher) GetAppointment(context.Context, string) (*acuity.Appointment, error) {
	return nil, errStubFetch
}

func TestAcuityWebhookUpstreamFailure(t *testing.T) {
	f := newAppointmentApp(t)
	f.ctrl.syncer = acuity.NewSyncer(failingFetcher{}, f.members, f.appts, nil, nil)

	resp, body := f.webhook(t, "appointment.scheduled", "77", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to sync appointment", body["message"])
}
