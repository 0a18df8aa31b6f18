package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/metrics"
	"github.com/armonempire/portal/models"
	"go.uber.org/zap"
)

// Result statuses returned to the checkout client.
const (
	StatusActive               = "active"
	StatusRequiresConfirmation = "requires_confirmation"
)

var (
	// ErrNoPaymentIntent is matched verbatim by clients; keep the wording.
	ErrNoPaymentIntent = errors.New("No payment intent available for the invoice")
	ErrUnknownTier     = errors.New("membership tier is not available for purchase")
	ErrMemberNotFound  = errors.New("member not found")
	ErrNoSubscription  = errors.New("member has no subscription")
	ErrPriceMissing    = errors.New("no Stripe price configured for tier")
)

// Members is the member persistence the subscription service needs.
type Members interface {
	ByID(ctx context.Context, id uint) (*models.User, error)
	ByEmail(ctx context.Context, email string) (*models.User, error)
	ByStripeCustomer(ctx context.Context, customerID string) (*models.User, error)
	Save(ctx context.Context, u *models.User) error
}

// CreateResult is the create-subscription response body.
type CreateResult struct {
	Status         string `json:"status"`
	ClientSecret   string `json:"clientSecret,omitempty"`
	SubscriptionID string `json:"subscriptionId"`
}

// Service runs membership subscriptions against Stripe.
type Service struct {
	stripe  *StripeClient
	members Members
	prices  map[models.Tier]string
	log     *zap.Logger
	metrics *metrics.PortalMetrics
}

// NewService builds the service. prices maps tier names to Stripe Price IDs.
func NewService(stripe *StripeClient, members Members, prices map[string]string, log *zap.Logger, m *metrics.PortalMetrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	byTier := make(map[models.Tier]string, len(prices))
	for name, id := range prices {
		if id != "" {
			byTier[models.ParseTier(name)] = id
		}
	}
	return &Service{stripe: stripe, members: members, prices: byTier, log: log, metrics: m}
}

func (s *Service) priceFor(tier models.Tier) (string, error) {
	if !tier.Paid() {
		return "", ErrUnknownTier
	}
	id, ok := s.prices[tier]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPriceMissing, tier)
	}
	return id, nil
}

func (s *Service) tierForPrice(priceID string) models.Tier {
	for tier, id := range s.prices {
		if id == priceID {
			return tier
		}
	}
	return models.TierFree
}

func (s *Service) member(ctx context.Context, email string) (*models.User, error) {
	u, err := s.members.ByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	return u, err
}

// ensureCustomer creates the Stripe customer on first purchase, otherwise
// attaches the new method and makes it the default.
func (s *Service) ensureCustomer(ctx context.Context, u *models.User, paymentMethodID string) error {
	if u.StripeCustomerID == "" {
		cus, err := s.stripe.CreateCustomer(ctx, u.Email, u.FullName(), paymentMethodID)
		if err != nil {
			return err
		}
		u.StripeCustomerID = cus.ID
		return s.members.Save(ctx, u)
	}
	if paymentMethodID == "" {
		return nil
	}
	if err := s.stripe.AttachPaymentMethod(ctx, paymentMethodID, u.StripeCustomerID); err != nil {
		return err
	}
	return s.stripe.SetDefaultPaymentMethod(ctx, u.StripeCustomerID, paymentMethodID)
}

// CreateSubscription purchases tier for the member. An existing live
// subscription is moved to the new price instead of stacking a second one.
func (s *Service) CreateSubscription(ctx context.Context, email string, tier models.Tier, paymentMethodID string) (*CreateResult, error) {
	res, err := s.createSubscription(ctx, email, tier, paymentMethodID)
	if err != nil {
		s.metrics.ObserveSubscription("create", "error")
		return nil, err
	}
	s.metrics.ObserveSubscription("create", res.Status)
	return res, nil
}

func (s *Service) createSubscription(ctx context.Context, email string, tier models.Tier, paymentMethodID string) (*CreateResult, error) {
	priceID, err := s.priceFor(tier)
	if err != nil {
		return nil, err
	}
	u, err := s.member(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCustomer(ctx, u, paymentMethodID); err != nil {
		return nil, err
	}

	if u.SubscriptionID != "" {
		existing, err := s.stripe.GetSubscription(ctx, u.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if existing.Status == "active" || existing.Status == "trialing" {
			if existing.PriceID() != priceID {
				if _, err := s.stripe.ChangeSubscriptionPrice(ctx, existing, priceID); err != nil {
					return nil, err
				}
			}
			u.Membership = tier
			u.PaymentStatus = models.PaymentActive
			if err := s.members.Save(ctx, u); err != nil {
				return nil, err
			}
			s.log.Info("subscription moved to new tier", zap.Uint("user_id", u.ID), zap.String("tier", string(tier)))
			return &CreateResult{Status: StatusActive, SubscriptionID: existing.ID}, nil
		}
		if abandonable(existing.Status) {
			if _, err := s.stripe.CancelSubscription(ctx, existing.ID); err != nil {
				return nil, err
			}
			s.log.Info("canceled unpaid subscription before retry",
				zap.Uint("user_id", u.ID), zap.String("subscription_id", existing.ID), zap.String("status", existing.Status))
		}
	}

	sub, err := s.stripe.CreateSubscription(ctx, u.StripeCustomerID, priceID, paymentMethodID)
	if err != nil {
		return nil, err
	}
	u.SubscriptionID = sub.ID
	u.PaymentStatus = sub.Status
	if sub.Status == "active" {
		u.Membership = tier
	}
	if err := s.members.Save(ctx, u); err != nil {
		return nil, err
	}

	if sub.Status == "active" {
		return &CreateResult{Status: StatusActive, SubscriptionID: sub.ID}, nil
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil || sub.LatestInvoice.PaymentIntent.ClientSecret == "" {
		s.log.Warn("incomplete subscription without payment intent", zap.String("subscription_id", sub.ID))
		return nil, ErrNoPaymentIntent
	}
	return &CreateResult{
		Status:         StatusRequiresConfirmation,
		ClientSecret:   sub.LatestInvoice.PaymentIntent.ClientSecret,
		SubscriptionID: sub.ID,
	}, nil
}

// abandonable reports whether a subscription never got paid and would be left
// dangling if a new one replaced it. Canceled and expired ones are already
// closed on Stripe's side.
func abandonable(status string) bool {
	switch status {
	case "incomplete", "past_due", "unpaid":
		return true
	}
	return false
}

// VerifySubscription re-reads the subscription from Stripe and records its
// status on the member who owns it.
func (s *Service) VerifySubscription(ctx context.Context, callerID uint, subscriptionID string) (string, error) {
	u, err := s.members.ByID(ctx, callerID)
	if errors.Is(err, db.ErrNotFound) {
		return "", ErrMemberNotFound
	}
	if err != nil {
		return "", err
	}

	sub, err := s.stripe.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID == "" || sub.Customer != u.StripeCustomerID {
		return "", ErrNoSubscription
	}

	s.applySubscription(u, sub)
	if err := s.members.Save(ctx, u); err != nil {
		return "", err
	}
	s.metrics.ObserveSubscription("verify", sub.Status)
	return sub.Status, nil
}

func (s *Service) applySubscription(u *models.User, sub *Subscription) {
	u.SubscriptionID = sub.ID
	u.PaymentStatus = sub.Status
	switch sub.Status {
	case "active", "trialing":
		if tier := s.tierForPrice(sub.PriceID()); tier.Paid() {
			u.Membership = tier
		}
	case "canceled", "incomplete_expired":
		u.Membership = models.TierFree
		u.SubscriptionID = ""
		u.PaymentStatus = models.PaymentCanceled
	}
}

// ChangeTier moves a live subscription to another paid tier. Moving to Free cancels.
func (s *Service) ChangeTier(ctx context.Context, email string, tier models.Tier) error {
	if tier == models.TierFree {
		return s.Cancel(ctx, email)
	}
	priceID, err := s.priceFor(tier)
	if err != nil {
		return err
	}
	u, err := s.member(ctx, email)
	if err != nil {
		return err
	}
	if u.SubscriptionID == "" {
		return ErrNoSubscription
	}
	sub, err := s.stripe.GetSubscription(ctx, u.SubscriptionID)
	if err != nil {
		return err
	}
	if _, err := s.stripe.ChangeSubscriptionPrice(ctx, sub, priceID); err != nil {
		return err
	}
	u.Membership = tier
	s.metrics.ObserveSubscription("update", "active")
	return s.members.Save(ctx, u)
}

// Cancel ends the member's subscription and drops them to Free.
func (s *Service) Cancel(ctx context.Context, email string) error {
	u, err := s.member(ctx, email)
	if err != nil {
		return err
	}
	if u.SubscriptionID == "" {
		return ErrNoSubscription
	}
	if _, err := s.stripe.CancelSubscription(ctx, u.SubscriptionID); err != nil {
		return err
	}
	u.Membership = models.TierFree
	u.SubscriptionID = ""
	u.PaymentStatus = models.PaymentCanceled
	s.metrics.ObserveSubscription("cancel", "canceled")
	return s.members.Save(ctx, u)
}

// PaymentMethod returns the member's default card, nil when none is on file.
func (s *Service) PaymentMethod(ctx context.Context, userID uint) (*PaymentMethod, error) {
	u, err := s.members.ByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.StripeCustomerID == "" {
		return nil, nil
	}
	cus, err := s.stripe.GetCustomer(ctx, u.StripeCustomerID)
	if err != nil {
		return nil, err
	}
	pm := cus.InvoiceSettings.DefaultPaymentMethod
	if pm == nil || pm.Card == nil {
		return nil, nil
	}
	return pm, nil
}

// UpdatePaymentMethod makes paymentMethodID the member's default for future invoices.
func (s *Service) UpdatePaymentMethod(ctx context.Context, email, paymentMethodID string) error {
	if paymentMethodID == "" {
		return errors.New("paymentMethodId is required")
	}
	u, err := s.member(ctx, email)
	if err != nil {
		return err
	}
	if err := s.ensureCustomer(ctx, u, paymentMethodID); err != nil {
		return err
	}
	if u.SubscriptionID != "" {
		return s.stripe.SetSubscriptionPaymentMethod(ctx, u.SubscriptionID, paymentMethodID)
	}
	return nil
}

// SetupIntent starts collecting a replacement card.
func (s *Service) SetupIntent(ctx context.Context, userID uint) (string, error) {
	u, err := s.members.ByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return "", ErrMemberNotFound
	}
	if err != nil {
		return "", err
	}
	if err := s.ensureCustomer(ctx, u, ""); err != nil {
		return "", err
	}
	si, err := s.stripe.CreateSetupIntent(ctx, u.StripeCustomerID)
	if err != nil {
		return "", err
	}
	return si.ClientSecret, nil
}
