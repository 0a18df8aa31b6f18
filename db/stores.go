package db

import (
	"context"
	"errors"
	"time"

	"github.com/armonempire/portal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemberStore persists members.
type MemberStore interface {
	Create(ctx context.Context, u *models.User) error
	ByID(ctx context.Context, id uint) (*models.User, error)
	ByEmail(ctx context.Context, email string) (*models.User, error)
	ByStripeCustomer(ctx context.Context, customerID string) (*models.User, error)
	Save(ctx context.Context, u *models.User) error
	List(ctx context.Context) ([]models.User, error)
}

// AppointmentStore persists appointments mirrored from Acuity.
type AppointmentStore interface {
	ListByUser(ctx context.Context, userID uint) ([]models.Appointment, error)
	ByAcuityID(ctx context.Context, acuityID string) (*models.Appointment, error)
	Upsert(ctx context.Context, a *models.Appointment) error
	DueForReminder(ctx context.Context, from, to time.Time) ([]models.Appointment, error)
	StartedBefore(ctx context.Context, t time.Time) ([]models.Appointment, error)
	MarkReminded(ctx context.Context, id uint, at time.Time) error
	SetStatus(ctx context.Context, a *models.Appointment, status models.AppointmentStatus) error
}

type gormMembers struct{ db *gorm.DB }

// NewMemberStore returns a MemberStore backed by gdb.
func NewMemberStore(gdb *gorm.DB) MemberStore {
	return &gormMembers{db: gdb}
}

func (s *gormMembers) Create(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *gormMembers) ByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).
		Preload("Appointments", func(tx *gorm.DB) *gorm.DB { return tx.Order("datetime DESC") }).
		First(&u, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *gormMembers) ByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *gormMembers) ByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	var u models.User
	if err := s.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *gormMembers) Save(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(u).Error
}

func (s *gormMembers) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error
	return users, err
}

type gormAppointments struct{ db *gorm.DB }

// NewAppointmentStore returns an AppointmentStore backed by gdb.
func NewAppointmentStore(gdb *gorm.DB) AppointmentStore {
	return &gormAppointments{db: gdb}
}

func (s *gormAppointments) ListByUser(ctx context.Context, userID uint) ([]models.Appointment, error) {
	var list []models.Appointment
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("datetime DESC").Find(&list).Error
	return list, err
}

func (s *gormAppointments) ByAcuityID(ctx context.Context, acuityID string) (*models.Appointment, error) {
	var a models.Appointment
	if err := s.db.WithContext(ctx).Where("acuity_appointment_id = ?", acuityID).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *gormAppointments) Upsert(ctx context.Context, a *models.Appointment) error {
	if a.ID == 0 {
		existing, err := s.ByAcuityID(ctx, a.AcuityAppointmentID)
		switch {
		case err == nil:
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}
	return s.db.WithContext(ctx).Save(a).Error
}

func (s *gormAppointments) DueForReminder(ctx context.Context, from, to time.Time) ([]models.Appointment, error) {
	var list []models.Appointment
	err := s.db.WithContext(ctx).
		Where("status IN ? AND reminder_sent_at IS NULL AND datetime BETWEEN ? AND ?",
			[]models.AppointmentStatus{models.StatusScheduled, models.StatusRescheduled}, from, to).
		Find(&list).Error
	return list, err
}

func (s *gormAppointments) StartedBefore(ctx context.Context, t time.Time) ([]models.Appointment, error) {
	var list []models.Appointment
	err := s.db.WithContext(ctx).
		Where("status IN ? AND datetime < ?",
			[]models.AppointmentStatus{models.StatusScheduled, models.StatusRescheduled}, t).
		Find(&list).Error
	return list, err
}

func (s *gormAppointments) MarkReminded(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Appointment{}).Where("id = ?", id).Update("reminder_sent_at", at).Error
}

func (s *gormAppointments) SetStatus(ctx context.Context, a *models.Appointment, status models.AppointmentStatus) error {
	return a.UpdateStatus(s.db.WithContext(ctx), status)
}
