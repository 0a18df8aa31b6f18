package models

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Payment statuses mirror Stripe subscription statuses, plus "none" for members
// who never subscribed.
const (
	PaymentNone       = "none"
	PaymentActive     = "active"
	PaymentIncomplete = "incomplete"
	PaymentPastDue    = "past_due"
	PaymentCanceled   = "canceled"
)

var (
	ErrDrinkRequiresPhoto = errors.New("a Photo ID upload is required to select a drink")
	ErrUnknownBarber      = errors.New("preferred barber is not on the roster")
)

// User is a barbershop member.
type User struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	FirstName       string     `json:"firstName"`
	LastName        string     `json:"lastName"`
	Email           string     `json:"email" gorm:"uniqueIndex"`
	PhoneNumber     string     `json:"phoneNumber"`
	Password        string     `json:"-"`
	Membership      Tier       `json:"membership" gorm:"type:varchar(16);default:Free"`
	PreferredBarber string     `json:"preferredBarber"`
	DrinkOfChoice   string     `json:"drinkOfChoice"`
	WantsDrink      bool       `json:"wantsDrink"`
	DOB             *time.Time `json:"dob,omitempty"`

	PhotoData        []byte `json:"-"`
	PhotoContentType string `json:"-"`
	PhotoFileName    string `json:"-"`
	PhotoReviewURL   string `json:"-"`

	VerifiedID bool `json:"verifiedId" gorm:"default:false"`
	IsAdmin    bool `json:"isAdmin" gorm:"default:false"`

	StripeCustomerID string `json:"stripeCustomerId" gorm:"index"`
	SubscriptionID   string `json:"subscriptionId" gorm:"index"`
	PaymentStatus    string `json:"paymentStatus"`

	Appointments []Appointment `json:"appointments,omitempty" gorm:"foreignKey:UserID"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Email = NormalizeEmail(u.Email)
	u.PhoneNumber = NormalizePhoneNumber(u.PhoneNumber)
	if u.Membership == "" {
		u.Membership = TierFree
	}
	if u.PaymentStatus == "" {
		u.PaymentStatus = PaymentNone
	}
	return nil
}

// HasPhoto reports whether an identity photo is on file.
func (u *User) HasPhoto() bool {
	return len(u.PhotoData) > 0
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// SetPhoto stores an identity photo. A new photo clears any earlier verification.
func (u *User) SetPhoto(data []byte, contentType, fileName string) {
	u.PhotoData = data
	u.PhotoContentType = contentType
	u.PhotoFileName = fileName
	u.PhotoReviewURL = ""
	u.VerifiedID = false
}

// ValidatePreferences enforces the drink and barber rules before a profile save.
func (u *User) ValidatePreferences() error {
	if u.DrinkOfChoice != "" && !u.HasPhoto() {
		return ErrDrinkRequiresPhoto
	}
	if u.PreferredBarber != "" && !IsRosterBarber(u.PreferredBarber) {
		return ErrUnknownBarber
	}
	return nil
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var nonPhoneDigits = regexp.MustCompile(`[^\d+]`)

// NormalizePhoneNumber strips formatting and defaults to the +1 country code.
func NormalizePhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	normalized := nonPhoneDigits.ReplaceAllString(phone, "")
	if normalized == "" {
		return ""
	}
	if !strings.HasPrefix(normalized, "+") {
		normalized = "+1" + normalized
	}
	return normalized
}
