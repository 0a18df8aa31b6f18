package acuity

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrUnknownMember means the booking's email matches no member.
var ErrUnknownMember = errors.New("acuity: no member with the booking email")

// Fetcher loads an appointment from Acuity.
type Fetcher interface {
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
}

// Publisher pushes a change to the member's live channel.
type Publisher interface {
	Publish(ctx context.Context, userID uint, a models.Appointment) error
}

// Syncer mirrors Acuity webhook notifications into the appointments table and
// publishes each change.
type Syncer struct {
	fetch        Fetcher
	members      db.MemberStore
	appointments db.AppointmentStore
	pub          Publisher
	log          *zap.Logger
}

func NewSyncer(f Fetcher, members db.MemberStore, appts db.AppointmentStore, pub Publisher, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{fetch: f, members: members, appointments: appts, pub: pub, log: log}
}

// Handle applies one webhook notification. action is Acuity's action string,
// for example "appointment.scheduled"; id is the Acuity appointment id.
func (s *Syncer) Handle(ctx context.Context, action, id string) (*models.Appointment, error) {
	ctx, span := tracer.Start(ctx, "acuity.sync")
	defer span.End()
	span.SetAttributes(attribute.String("acuity.action", action), attribute.String("acuity.appointment_id", id))

	if id == "" {
		return nil, fmt.Errorf("acuity: webhook missing appointment id")
	}

	remote, err := s.fetch.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	member, err := s.members.ByEmail(ctx, remote.Email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMember, remote.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("acuity: member lookup: %w", err)
	}

	start, err := remote.Start()
	if err != nil {
		return nil, err
	}

	appt, err := s.appointments.ByAcuityID(ctx, strconv.FormatInt(remote.ID, 10))
	switch {
	case errors.Is(err, db.ErrNotFound):
		appt = &models.Appointment{AcuityAppointmentID: strconv.FormatInt(remote.ID, 10)}
	case err != nil:
		return nil, fmt.Errorf("acuity: appointment lookup: %w", err)
	}

	next := nextStatus(action, remote, appt.Status)
	if err := appt.CanTransition(next); err != nil {
		return nil, err
	}

	appt.UserID = member.ID
	appt.Datetime = start.UTC()
	appt.Service = remote.Type
	appt.Duration = remote.Minutes()
	appt.Status = next
	if err := s.appointments.Upsert(ctx, appt); err != nil {
		return nil, fmt.Errorf("acuity: save appointment: %w", err)
	}

	if err := s.pub.Publish(ctx, member.ID, *appt); err != nil {
		s.log.Warn("failed to publish appointment change",
			zap.String("acuity_id", appt.AcuityAppointmentID), zap.Error(err))
	}
	s.log.Info("appointment synced",
		zap.String("acuity_id", appt.AcuityAppointmentID),
		zap.Uint("user_id", member.ID),
		zap.String("status", string(appt.Status)))
	return appt, nil
}

// nextStatus maps the webhook action onto our status set. "changed" only edits
// details, so the stored status stands.
func nextStatus(action string, remote *Appointment, current models.AppointmentStatus) models.AppointmentStatus {
	if remote.Canceled {
		return models.StatusCanceled
	}
	if s, ok := models.ParseAppointmentStatus(action); ok {
		return s
	}
	if current != "" {
		return current
	}
	return models.StatusScheduled
}
