// Package dbtest provides in-memory stores for tests.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/models"
)

// Members is an in-memory db.MemberStore.
type Members struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]models.User
}

func NewMembers(seed ...models.User) *Members {
	m := &Members{rows: map[uint]models.User{}}
	for _, u := range seed {
		u := u
		_ = m.Create(context.Background(), &u)
	}
	return m
}

func (m *Members) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		m.nextID++
		u.ID = m.nextID
	} else if u.ID > m.nextID {
		m.nextID = u.ID
	}
	_ = u.BeforeSave(nil)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.rows[u.ID] = *u
	return nil
}

func (m *Members) ByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

func (m *Members) ByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = models.NormalizeEmail(email)
	for _, u := range m.rows {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *Members) ByStripeCustomer(_ context.Context, customerID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if customerID != "" && u.StripeCustomerID == customerID {
			u := u
			return &u, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *Members) Save(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[u.ID]; !ok {
		return db.ErrNotFound
	}
	_ = u.BeforeSave(nil)
	u.UpdatedAt = time.Now()
	m.rows[u.ID] = *u
	return nil
}

func (m *Members) List(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.rows))
	for _, u := range m.rows {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Appointments is an in-memory db.AppointmentStore.
type Appointments struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]models.Appointment
}

func NewAppointments(seed ...models.Appointment) *Appointments {
	s := &Appointments{rows: map[uint]models.Appointment{}}
	for _, a := range seed {
		a := a
		_ = s.Upsert(context.Background(), &a)
	}
	return s
}

func (s *Appointments) ListByUser(_ context.Context, userID uint) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Appointment
	for _, a := range s.rows {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Datetime.After(out[j].Datetime) })
	return out, nil
}

func (s *Appointments) ByAcuityID(_ context.Context, acuityID string) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.rows {
		if a.AcuityAppointmentID == acuityID {
			a := a
			return &a, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *Appointments) Upsert(_ context.Context, a *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		for id, existing := range s.rows {
			if existing.AcuityAppointmentID == a.AcuityAppointmentID {
				a.ID = id
				a.CreatedAt = existing.CreatedAt
			}
		}
	}
	if a.ID == 0 {
		s.nextID++
		a.ID = s.nextID
		a.CreatedAt = time.Now()
		if a.Status == "" {
			a.Status = models.StatusScheduled
		}
	}
	a.UpdatedAt = time.Now()
	s.rows[a.ID] = *a
	return nil
}

func (s *Appointments) DueForReminder(_ context.Context, from, to time.Time) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Appointment
	for _, a := range s.rows {
		if a.Status.Active() && a.ReminderSentAt == nil && !a.Datetime.Before(from) && !a.Datetime.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Appointments) StartedBefore(_ context.Context, t time.Time) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Appointment
	for _, a := range s.rows {
		if a.Status.Active() && a.Datetime.Before(t) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Appointments) MarkReminded(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	a.ReminderSentAt = &at
	s.rows[id] = a
	return nil
}

func (s *Appointments) SetStatus(_ context.Context, a *models.Appointment, status models.AppointmentStatus) error {
	if err := a.CanTransition(status); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Status = status
	row := s.rows[a.ID]
	row.Status = status
	s.rows[a.ID] = row
	return nil
}

var (
	_ db.MemberStore      = (*Members)(nil)
	_ db.AppointmentStore = (*Appointments)(nil)
)
