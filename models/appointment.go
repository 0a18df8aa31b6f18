package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "Scheduled"
	StatusRescheduled AppointmentStatus = "Rescheduled"
	StatusCanceled    AppointmentStatus = "Canceled"
	StatusCompleted   AppointmentStatus = "Completed"
)

var ErrInvalidTransition = errors.New("invalid appointment status transition")

// ParseAppointmentStatus accepts either our names or Acuity webhook actions
// ("appointment.scheduled", "rescheduled", ...).
func ParseAppointmentStatus(s string) (AppointmentStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "appointment.")
	switch s {
	case "scheduled":
		return StatusScheduled, true
	case "rescheduled":
		return StatusRescheduled, true
	case "canceled", "cancelled":
		return StatusCanceled, true
	case "completed":
		return StatusCompleted, true
	}
	return "", false
}

// Active reports whether the booking still counts toward the member's schedule.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

// Appointment is a booking mirrored from Acuity Scheduling.
type Appointment struct {
	ID                  uint              `json:"-" gorm:"primaryKey"`
	AcuityAppointmentID string            `json:"acuityAppointmentId" gorm:"uniqueIndex;not null"`
	UserID              uint              `json:"-" gorm:"index"`
	Datetime            time.Time         `json:"datetime"`
	Service             string            `json:"service"`
	Duration            int               `json:"duration"`
	Status              AppointmentStatus `json:"status" gorm:"type:varchar(16);index"`
	ReminderSentAt      *time.Time        `json:"-"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"-"`
}

func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	return nil
}

// EndTime is the start plus the booked duration.
func (a *Appointment) EndTime() time.Time {
	return a.Datetime.Add(time.Duration(a.Duration) * time.Minute)
}

// CanTransition reports whether the appointment may move to next. Repeating the
// current status is allowed so replayed webhooks stay idempotent.
func (a *Appointment) CanTransition(next AppointmentStatus) error {
	if a.Status == "" || a.Status == next {
		return nil
	}
	switch a.Status {
	case StatusScheduled, StatusRescheduled:
		if next == StatusRescheduled || next == StatusCanceled || next == StatusCompleted {
			return nil
		}
	case StatusCanceled, StatusCompleted:
		return fmt.Errorf("%w: no transitions allowed from %s", ErrInvalidTransition, a.Status)
	}
	return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, a.Status, next)
}

// UpdateStatus validates and persists a status change.
func (a *Appointment) UpdateStatus(tx *gorm.DB, next AppointmentStatus) error {
	if err := a.CanTransition(next); err != nil {
		return err
	}
	if a.Status == next {
		return nil
	}
	a.Status = next
	return tx.Model(a).Update("status", next).Error
}
