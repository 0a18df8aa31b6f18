package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/models"
	"go.uber.org/zap"
)

// SignatureTolerance bounds the age of a signed webhook.
const SignatureTolerance = 5 * time.Minute

// Event is a Stripe webhook event.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// VerifySignature checks a Stripe-Signature header ("t=...,v1=...") against
// HMAC-SHA256(secret, "timestamp.payload").
func VerifySignature(secret string, payload []byte, header string, now time.Time) bool {
	if secret == "" || header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return false
	}

	expected := signPayload(secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func signPayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader builds a Stripe-Signature header for payload at t.
func SignatureHeader(secret string, payload []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, signPayload(secret, ts, payload))
}

// HandleEvent applies subscription and invoice events to the owning member.
// Events for unknown customers and unhandled types are ignored.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	var (
		u   *models.User
		err error
	)
	switch ev.Type {
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
			return fmt.Errorf("payments: decode subscription: %w", err)
		}
		if u, err = s.members.ByStripeCustomer(ctx, sub.Customer); err != nil {
			return s.ignoreUnknown(ev, sub.Customer, err)
		}
		if ev.Type == "customer.subscription.deleted" {
			sub.Status = "canceled"
		}
		if u.SubscriptionID != "" && u.SubscriptionID != sub.ID {
			s.log.Info("ignoring event for superseded subscription",
				zap.String("event_id", ev.ID), zap.String("subscription_id", sub.ID))
			return nil
		}
		s.applySubscription(u, &sub)

	case "invoice.payment_failed", "invoice.paid":
		var inv Invoice
		if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
			return fmt.Errorf("payments: decode invoice: %w", err)
		}
		if u, err = s.members.ByStripeCustomer(ctx, inv.Customer); err != nil {
			return s.ignoreUnknown(ev, inv.Customer, err)
		}
		if ev.Type == "invoice.paid" {
			u.PaymentStatus = models.PaymentActive
		} else {
			u.PaymentStatus = models.PaymentPastDue
		}

	default:
		s.log.Debug("ignoring stripe event", zap.String("type", ev.Type))
		return nil
	}

	s.log.Info("stripe event applied",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.Uint("user_id", u.ID),
		zap.String("payment_status", u.PaymentStatus))
	return s.members.Save(ctx, u)
}

func (s *Service) ignoreUnknown(ev Event, customerID string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		s.log.Warn("stripe event for unknown customer",
			zap.String("event_id", ev.ID), zap.String("customer", customerID))
		return nil
	}
	return err
}
