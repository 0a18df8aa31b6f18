package controllers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/metrics"
	"github.com/armonempire/portal/middleware"
	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/payments"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// StripeController serves /api/stripe.
type StripeController struct {
	payments      *payments.Service
	members       db.MemberStore
	webhookSecret string
	clock         clockwork.Clock
	metrics       *metrics.PortalMetrics
	log           *zap.Logger
}

func NewStripeController(svc *payments.Service, members db.MemberStore, webhookSecret string, clock clockwork.Clock, m *metrics.PortalMetrics, log *zap.Logger) *StripeController {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StripeController{
		payments:      svc,
		members:       members,
		webhookSecret: webhookSecret,
		clock:         clock,
		metrics:       m,
		log:           log,
	}
}

// paymentError renders a failed payment call as {error, details}.
func (s *StripeController) paymentError(c *fiber.Ctx, err error) error {
	var se *payments.StripeError
	switch {
	case errors.As(err, &se):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   se.Message,
			"details": se.Code,
		})
	case errors.Is(err, payments.ErrMemberNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, payments.ErrNoPaymentIntent),
		errors.Is(err, payments.ErrUnknownTier),
		errors.Is(err, payments.ErrNoSubscription),
		errors.Is(err, payments.ErrPriceMissing):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   err.Error(),
			"details": err.Error(),
		})
	default:
		s.log.Error("payment request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Payment request failed",
			"details": err.Error(),
		})
	}
}

// authorizeEmail resolves the member a request acts on. Members may only act
// on themselves; admins may act on anyone.
func (s *StripeController) authorizeEmail(c *fiber.Ctx, email string) (string, error) {
	caller, err := s.members.ByID(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return "", fiber.NewError(fiber.StatusUnauthorized, "User not found")
	}
	email = models.NormalizeEmail(email)
	if email == "" || email == caller.Email {
		return caller.Email, nil
	}
	if !caller.IsAdmin {
		return "", fiber.NewError(fiber.StatusForbidden, "You can only manage your own membership")
	}
	return email, nil
}

// CreateSubscription starts or changes a paid membership.
func (s *StripeController) CreateSubscription(c *fiber.Ctx) error {
	type CreateInput struct {
		Email           string `json:"email"`
		Membership      string `json:"membership"`
		PaymentMethodID string `json:"paymentMethodId"`
	}

	input := new(CreateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if strings.TrimSpace(input.Membership) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "membership is required",
		})
	}

	email, err := s.authorizeEmail(c, input.Email)
	if err != nil {
		return err
	}

	res, err := s.payments.CreateSubscription(c.UserContext(), email, models.ParseTier(input.Membership), input.PaymentMethodID)
	if err != nil {
		return s.paymentError(c, err)
	}
	return c.JSON(res)
}

// VerifySubscription reports the authoritative subscription status.
func (s *StripeController) VerifySubscription(c *fiber.Ctx) error {
	status, err := s.payments.VerifySubscription(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return s.paymentError(c, err)
	}
	return c.JSON(fiber.Map{"status": status})
}

// UpdateSubscription moves the member to another tier.
func (s *StripeController) UpdateSubscription(c *fiber.Ctx) error {
	type UpdateInput struct {
		Email         string `json:"email"`
		NewMembership string `json:"newMembership"`
	}

	input := new(UpdateInput)
	if err := c.BodyParser(input); err != nil || input.NewMembership == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "newMembership is required",
		})
	}

	email, err := s.authorizeEmail(c, input.Email)
	if err != nil {
		return err
	}

	tier := models.ParseTier(input.NewMembership)
	if err := s.payments.ChangeTier(c.UserContext(), email, tier); err != nil {
		return s.paymentError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "membership": tier})
}

// CancelSubscription ends the membership.
func (s *StripeController) CancelSubscription(c *fiber.Ctx) error {
	type CancelInput struct {
		Email string `json:"email"`
	}

	input := new(CancelInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	email, err := s.authorizeEmail(c, input.Email)
	if err != nil {
		return err
	}

	if err := s.payments.Cancel(c.UserContext(), email); err != nil {
		return s.paymentError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// GetPaymentMethod returns the caller's default card.
func (s *StripeController) GetPaymentMethod(c *fiber.Ctx) error {
	pm, err := s.payments.PaymentMethod(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return s.paymentError(c, err)
	}
	if pm == nil {
		return c.JSON(fiber.Map{"paymentMethod": nil})
	}
	return c.JSON(fiber.Map{
		"paymentMethod": fiber.Map{"id": pm.ID, "card": pm.Card},
	})
}

// UpdatePaymentMethod swaps the card future invoices are charged to.
func (s *StripeController) UpdatePaymentMethod(c *fiber.Ctx) error {
	type PaymentMethodInput struct {
		Email           string `json:"email"`
		PaymentMethodID string `json:"paymentMethodId"`
	}

	input := new(PaymentMethodInput)
	if err := c.BodyParser(input); err != nil || input.PaymentMethodID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "paymentMethodId is required",
		})
	}

	email, err := s.authorizeEmail(c, input.Email)
	if err != nil {
		return err
	}

	if err := s.payments.UpdatePaymentMethod(c.UserContext(), email, input.PaymentMethodID); err != nil {
		return s.paymentError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// CreateSetupIntent begins collecting a replacement card.
func (s *StripeController) CreateSetupIntent(c *fiber.Ctx) error {
	secret, err := s.payments.SetupIntent(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return s.paymentError(c, err)
	}
	return c.JSON(fiber.Map{"clientSecret": secret})
}

// Webhook receives signed Stripe events.
func (s *StripeController) Webhook(c *fiber.Ctx) error {
	payload := c.Body()
	if !payments.VerifySignature(s.webhookSecret, payload, c.Get("Stripe-Signature"), s.clock.Now()) {
		s.metrics.ObserveWebhook("stripe", "bad_signature")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid signature",
		})
	}

	var ev payments.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.metrics.ObserveWebhook("stripe", "bad_request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event payload",
		})
	}

	if err := s.payments.HandleEvent(c.UserContext(), ev); err != nil {
		s.metrics.ObserveWebhook("stripe", "error")
		return internalError(c, "Failed to handle event", err)
	}
	s.metrics.ObserveWebhook("stripe", "ok")
	return c.JSON(fiber.Map{"received": true})
}
