package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/metrics"
	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReminderWindow is how far ahead reminders are sent.
const ReminderWindow = 24 * time.Hour

// Publisher pushes appointment changes to members.
type Publisher interface {
	Publish(ctx context.Context, userID uint, a models.Appointment) error
}

// Jobs holds the dependencies of the scheduled jobs.
type Jobs struct {
	Members      db.MemberStore
	Appointments db.AppointmentStore
	Mailer       utils.Sender
	Events       Publisher
	Timezone     string
	Clock        clockwork.Clock
	Metrics      *metrics.PortalMetrics
	Log          *zap.Logger
}

// StartCronJobs schedules reminders every 15 minutes and completion hourly.
// The returned scheduler must be stopped on shutdown.
func StartCronJobs(j *Jobs) (*cron.Cron, error) {
	if j.Clock == nil {
		j.Clock = clockwork.NewRealClock()
	}
	if j.Log == nil {
		j.Log = zap.NewNop()
	}

	c := cron.New()
	if _, err := c.AddFunc("*/15 * * * *", func() { j.SendReminders(context.Background()) }); err != nil {
		return nil, fmt.Errorf("cron: add reminder job: %w", err)
	}
	if _, err := c.AddFunc("@hourly", func() { j.CompletePastAppointments(context.Background()) }); err != nil {
		return nil, fmt.Errorf("cron: add completion job: %w", err)
	}
	c.Start()
	j.Log.Info("cron scheduler started")
	return c, nil
}

// SendReminders emails members about appointments starting within the window.
// Each appointment is reminded at most once.
func (j *Jobs) SendReminders(ctx context.Context) int {
	now := j.Clock.Now()
	due, err := j.Appointments.DueForReminder(ctx, now, now.Add(ReminderWindow))
	if err != nil {
		j.Log.Error("failed to fetch appointments for reminders", zap.Error(err))
		return 0
	}

	sent := 0
	for i := range due {
		a := &due[i]
		member, err := j.Members.ByID(ctx, a.UserID)
		if err != nil {
			j.Log.Warn("reminder skipped, member missing", zap.Uint("appointment_id", a.ID), zap.Error(err))
			continue
		}
		if err := j.Mailer.Send(member.Email, reminderSubject(a), j.reminderBody(member, a)); err != nil {
			j.Metrics.ObserveReminder("failed")
			j.Log.Error("failed to send reminder", zap.Uint("appointment_id", a.ID), zap.Error(err))
			continue
		}
		if err := j.Appointments.MarkReminded(ctx, a.ID, now); err != nil {
			j.Log.Error("failed to mark reminder sent", zap.Uint("appointment_id", a.ID), zap.Error(err))
		}
		j.Metrics.ObserveReminder("sent")
		sent++
	}
	if len(due) > 0 {
		j.Log.Info("appointment reminders processed", zap.Int("due", len(due)), zap.Int("sent", sent))
	}
	return sent
}

// CompletePastAppointments marks appointments whose end time has passed as
// Completed and notifies the member.
func (j *Jobs) CompletePastAppointments(ctx context.Context) int {
	now := j.Clock.Now()
	started, err := j.Appointments.StartedBefore(ctx, now)
	if err != nil {
		j.Log.Error("failed to fetch past appointments", zap.Error(err))
		return 0
	}

	done := 0
	for i := range started {
		a := &started[i]
		if a.EndTime().After(now) {
			continue
		}
		if err := j.Appointments.SetStatus(ctx, a, models.StatusCompleted); err != nil {
			j.Log.Error("failed to complete appointment", zap.Uint("appointment_id", a.ID), zap.Error(err))
			continue
		}
		if j.Events != nil {
			if err := j.Events.Publish(ctx, a.UserID, *a); err != nil {
				j.Log.Warn("failed to publish completion", zap.Uint("appointment_id", a.ID), zap.Error(err))
			}
		}
		done++
	}
	if done > 0 {
		j.Log.Info("appointments completed", zap.Int("count", done))
	}
	return done
}

func reminderSubject(a *models.Appointment) string {
	return fmt.Sprintf("Reminder: Upcoming Appointment - %s", a.Service)
}

func (j *Jobs) reminderBody(member *models.User, a *models.Appointment) string {
	return fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>This is a reminder for your upcoming appointment at Armon Empire.</p>
		<p><strong>Details:</strong></p>
		<ul>
			<li><strong>Service:</strong> %s</li>
			<li><strong>Barber:</strong> %s</li>
			<li><strong>When:</strong> %s</li>
			<li><strong>Length:</strong> %d minutes</li>
		</ul>
		<p>If you need to reschedule or cancel, please use your booking confirmation link.</p>
		<p>See you soon,</p>
		<p>Armon Empire</p>
	`, member.FirstName, a.Service, barberOrDefault(member.PreferredBarber),
		utils.FormatAppointmentTime(a.Datetime, j.Timezone), a.Duration)
}

func barberOrDefault(name string) string {
	if name == "" {
		return "Any available barber"
	}
	return name
}
