package portalclient

import (
	"time"

	"github.com/armonempire/portal/models"
)

// Normalize fills every optional profile field so callers never see a missing
// value: tier defaults to Free, payment status to "none", appointments to an
// empty list. Timestamped dates of birth are cut to the YYYY-MM-DD they
// name, in the offset they were written with.
func Normalize(p models.Profile) models.Profile {
	p.Email = models.NormalizeEmail(p.Email)
	p.Membership = models.ParseTier(string(p.Membership))
	if p.PaymentStatus == "" {
		p.PaymentStatus = models.PaymentNone
	}
	if p.Appointments == nil {
		p.Appointments = []models.Appointment{}
	}
	if len(p.DOB) > len(models.DateLayout) {
		if t, err := time.Parse(time.RFC3339, p.DOB); err == nil {
			p.DOB = t.Format(models.DateLayout)
		} else {
			p.DOB = p.DOB[:len(models.DateLayout)]
		}
	}
	if p.PhotoID != nil && p.PhotoID.ContentType == "" && p.PhotoID.FileName == "" && p.PhotoID.Data == "" {
		p.PhotoID = nil
	}
	return p
}

// HasPhoto reports whether the profile has an identity photo on file.
func HasPhoto(p models.Profile) bool {
	return p.PhotoID != nil
}
