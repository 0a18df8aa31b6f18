// Package reconciler mirrors a member's appointments from the portal push channel.
package reconciler

import (
	"errors"

	"github.com/armonempire/portal/models"
)

// ErrMissingID marks an event whose appointment has no external identifier.
var ErrMissingID = errors.New("reconciler: event has no appointment id")

// Event is one push channel message.
type Event struct {
	Appointment models.Appointment `json:"appointment"`
}

// Validate reports whether the event can be applied.
func (e Event) Validate() error {
	if e.Appointment.AcuityAppointmentID == "" {
		return ErrMissingID
	}
	return nil
}

// Apply returns the list after ev. The input slice is not modified.
//
// Scheduled, Rescheduled and Completed replace any record with the same id and
// move it to the end. Canceled removes it. Events without an id, or with a
// status we do not know, leave the list as it was.
func Apply(list []models.Appointment, ev Event) []models.Appointment {
	id := ev.Appointment.AcuityAppointmentID
	if id == "" {
		return list
	}

	switch ev.Appointment.Status {
	case models.StatusScheduled, models.StatusRescheduled, models.StatusCompleted:
		out := without(list, id)
		return append(out, ev.Appointment)
	case models.StatusCanceled:
		return without(list, id)
	default:
		return list
	}
}

func without(list []models.Appointment, id string) []models.Appointment {
	out := make([]models.Appointment, 0, len(list)+1)
	for _, a := range list {
		if a.AcuityAppointmentID != id {
			out = append(out, a)
		}
	}
	return out
}

// AdjustCounter is the independent booking counter: +1 on Scheduled, -1 on
// Canceled, whether or not the id was already tracked.
func AdjustCounter(n int, ev Event) int {
	switch ev.Appointment.Status {
	case models.StatusScheduled:
		return n + 1
	case models.StatusCanceled:
		return n - 1
	}
	return n
}

// CounterPolicy selects how the booking count is kept.
type CounterPolicy int

const (
	// Derived counts the records in the list. Duplicate or out-of-order
	// events cannot make it drift.
	Derived CounterPolicy = iota
	// Independent keeps a separate counter adjusted by AdjustCounter.
	Independent
)
