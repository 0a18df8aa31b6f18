package controllers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/armonempire/portal/acuity"
	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/metrics"
	"github.com/armonempire/portal/middleware"
	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/redis"
	"github.com/armonempire/portal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// HeartbeatInterval is how often an idle update stream gets a comment line.
const HeartbeatInterval = 25 * time.Second

// EventSubscriber opens a member's live appointment feed.
type EventSubscriber interface {
	Subscribe(ctx context.Context, userID uint) (*redis.Subscription, error)
}

// AppointmentSyncer applies an Acuity notification.
type AppointmentSyncer interface {
	Handle(ctx context.Context, action, id string) (*models.Appointment, error)
}

// AppointmentController serves /api/appointments.
type AppointmentController struct {
	appointments db.AppointmentStore
	events       EventSubscriber
	syncer       AppointmentSyncer
	acuityKey    string
	metrics      *metrics.PortalMetrics
	log          *zap.Logger
	heartbeat    time.Duration
	baseCtx      context.Context
}

func NewAppointmentController(appts db.AppointmentStore, events EventSubscriber, syncer AppointmentSyncer, acuityKey string, m *metrics.PortalMetrics, log *zap.Logger) *AppointmentController {
	if log == nil {
		log = zap.NewNop()
	}
	return &AppointmentController{
		appointments: appts,
		events:       events,
		syncer:       syncer,
		acuityKey:    acuityKey,
		metrics:      m,
		log:          log,
		heartbeat:    HeartbeatInterval,
		baseCtx:      context.Background(),
	}
}

// WithContext ties every update stream to ctx. Streams end when ctx does, so
// a server shutdown does not wait on connected members.
func (a *AppointmentController) WithContext(ctx context.Context) *AppointmentController {
	if ctx != nil {
		a.baseCtx = ctx
	}
	return a
}

// GetAppointments godoc
// @Summary Get the caller's appointments
// @Tags appointments
// @Produce json
// @Success 200 {array} models.Appointment
// @Failure 500 {object} utils.ErrorResponse
// @Router /api/appointments [get]
func (a *AppointmentController) GetAppointments(c *fiber.Ctx) error {
	list, err := a.appointments.ListByUser(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(utils.ErrorResponse{
			Message: "Failed to fetch appointments",
			Error:   err.Error(),
		})
	}
	if list == nil {
		list = []models.Appointment{}
	}
	return c.JSON(list)
}

// StreamUpdates godoc
// @Summary Server-sent appointment changes for the caller
// @Tags appointments
// @Produce text/event-stream
// @Param token query string true "JWT"
// @Router /api/appointments/updates [get]
func (a *AppointmentController) StreamUpdates(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	ctx, cancel := context.WithCancel(a.baseCtx)
	sub, err := a.events.Subscribe(ctx, userID)
	if err != nil {
		cancel()
		return internalError(c, "Failed to open update stream", err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	a.metrics.StreamOpened()
	a.log.Debug("update stream opened", zap.Uint("user_id", userID))
	heartbeat := a.heartbeat

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			cancel()
			sub.Close()
			a.metrics.StreamClosed()
			a.log.Debug("update stream closed", zap.Uint("user_id", userID))
		}()

		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-sub.C:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}

// AcuityWebhook receives Acuity's form-encoded notifications ("action", "id").
func (a *AppointmentController) AcuityWebhook(c *fiber.Ctx) error {
	if !acuity.VerifySignature(a.acuityKey, c.Body(), c.Get("X-Acuity-Signature")) {
		a.metrics.ObserveWebhook("acuity", "bad_signature")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid signature",
		})
	}

	action, id := c.FormValue("action"), c.FormValue("id")
	if id == "" {
		a.metrics.ObserveWebhook("acuity", "bad_request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id is required",
		})
	}
	appt, err := a.syncer.Handle(c.UserContext(), action, id)
	switch {
	case err == nil:
		a.metrics.ObserveWebhook("acuity", "ok")
		a.metrics.ObserveEventPublished(string(appt.Status))
		return c.JSON(fiber.Map{"status": "ok"})
	case errors.Is(err, acuity.ErrUnknownMember):
		a.metrics.ObserveWebhook("acuity", "unknown_member")
		a.log.Info("acuity booking for unknown member", zap.String("acuity_id", id), zap.Error(err))
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "ignored"})
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, acuity.ErrNotFound):
		a.metrics.ObserveWebhook("acuity", "ignored")
		a.log.Warn("ignoring acuity notification", zap.String("action", action), zap.String("acuity_id", id), zap.Error(err))
		return c.JSON(fiber.Map{"status": "ignored"})
	default:
		a.metrics.ObserveWebhook("acuity", "error")
		return internalError(c, "Failed to sync appointment", err)
	}
}
