package models

import (
	"encoding/base64"
	"time"
)

// PhotoID is the identity photo as returned to clients.
type PhotoID struct {
	Data        string `json:"data"`
	ContentType string `json:"contentType"`
	FileName    string `json:"fileName"`
}

// Profile is the member record as served by the API. Every optional field is
// populated so clients never have to default anything themselves.
type Profile struct {
	ID                   uint          `json:"_id"`
	FirstName            string        `json:"firstName"`
	LastName             string        `json:"lastName"`
	Email                string        `json:"email"`
	PhoneNumber          string        `json:"phoneNumber"`
	Membership           Tier          `json:"membership"`
	PreferredBarber      string        `json:"preferredBarber"`
	DrinkOfChoice        string        `json:"drinkOfChoice"`
	WantsDrink           bool          `json:"wantsDrink"`
	DOB                  string        `json:"dob"`
	IsOfLegalDrinkingAge bool          `json:"isOfLegalDrinkingAge"`
	PhotoID              *PhotoID      `json:"photoId"`
	VerifiedID           bool          `json:"verifiedId"`
	IsAdmin              bool          `json:"isAdmin"`
	Appointments         []Appointment `json:"appointments"`
	StripeCustomerID     string        `json:"stripeCustomerId"`
	SubscriptionID       string        `json:"subscriptionId"`
	PaymentStatus        string        `json:"paymentStatus"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

// DateLayout is the wire format for dates of birth.
const DateLayout = "2006-01-02"

// LegalDrinkingAge in the shop's jurisdiction.
const LegalDrinkingAge = 21

// NewProfile builds the client view of u. When withPhoto is false the photo
// metadata is kept but the bytes are left out.
func NewProfile(u *User, now time.Time, withPhoto bool) Profile {
	p := Profile{
		ID:               u.ID,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Email:            u.Email,
		PhoneNumber:      u.PhoneNumber,
		Membership:       u.Membership,
		PreferredBarber:  u.PreferredBarber,
		DrinkOfChoice:    u.DrinkOfChoice,
		WantsDrink:       u.WantsDrink,
		VerifiedID:       u.VerifiedID,
		IsAdmin:          u.IsAdmin,
		Appointments:     u.Appointments,
		StripeCustomerID: u.StripeCustomerID,
		SubscriptionID:   u.SubscriptionID,
		PaymentStatus:    u.PaymentStatus,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
	if p.Membership == "" {
		p.Membership = TierFree
	}
	if p.PaymentStatus == "" {
		p.PaymentStatus = PaymentNone
	}
	if p.Appointments == nil {
		p.Appointments = []Appointment{}
	}
	if u.DOB != nil {
		p.DOB = u.DOB.Format(DateLayout)
		p.IsOfLegalDrinkingAge = AgeOn(*u.DOB, now) >= LegalDrinkingAge
	}
	if u.HasPhoto() {
		p.PhotoID = &PhotoID{
			ContentType: u.PhotoContentType,
			FileName:    u.PhotoFileName,
		}
		if withPhoto {
			p.PhotoID.Data = base64.StdEncoding.EncodeToString(u.PhotoData)
		}
	}
	return p
}

// AgeOn returns the age in whole years on the given day. A birthday that falls
// on that day counts.
func AgeOn(dob, on time.Time) int {
	age := on.Year() - dob.Year()
	if on.Month() < dob.Month() || (on.Month() == dob.Month() && on.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}
