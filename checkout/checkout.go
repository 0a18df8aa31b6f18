// Package checkout drives the membership payment handshake: collect card
// details, create a payment method, request the subscription, confirm it with
// the payment SDK when the portal asks, and verify the result.
package checkout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/portalclient"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// State is a step of the handshake.
type State int

const (
	Collecting State = iota
	MethodCreation
	SubscriptionRequest
	Confirmation
	Verification
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case MethodCreation:
		return "method_creation"
	case SubscriptionRequest:
		return "subscription_request"
	case Confirmation:
		return "confirmation"
	case Verification:
		return "verification"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the attempt has ended.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// IntentSucceeded is the payment intent status after a completed confirmation.
const IntentSucceeded = "succeeded"

// DefaultSuccessDelay is how long the success message stays up before
// OnSucceeded fires.
const DefaultSuccessDelay = 2 * time.Second

// PaymentSDK is the client-side payment library.
type PaymentSDK interface {
	// Validate checks the details the member typed into the payment widget.
	Validate(ctx context.Context) error
	// CreatePaymentMethod tokenizes the validated details.
	CreatePaymentMethod(ctx context.Context, email string) (string, error)
	// ConfirmPayment confirms the payment intent behind clientSecret and
	// returns the intent's status.
	ConfirmPayment(ctx context.Context, clientSecret string) (string, error)
}

// Subscriptions is the portal's subscription API.
type Subscriptions interface {
	CreateSubscription(ctx context.Context, in portalclient.SubscriptionRequest) (*portalclient.SubscriptionResult, error)
	VerifySubscription(ctx context.Context, subscriptionID string) (string, error)
}

// Order is what the wizard hands to checkout.
type Order struct {
	Email      string
	Membership models.Tier
}

// attempt carries the values one run collects on its way through the states.
type attempt struct {
	order           Order
	paymentMethodID string
	result          *portalclient.SubscriptionResult
}

// Handshake runs one payment attempt at a time. A failed attempt restarts from
// Collecting on the next Submit.
type Handshake struct {
	sdk          PaymentSDK
	subs         Subscriptions
	clock        clockwork.Clock
	log          *zap.Logger
	successDelay time.Duration
	onSucceeded  func()
	onTransition func(from, to State)

	mu      sync.Mutex
	state   State
	running bool
	closed  bool
	lastErr *Error
	timer   clockwork.Timer
}

func New(sdk PaymentSDK, subs Subscriptions) *Handshake {
	return &Handshake{
		sdk:          sdk,
		subs:         subs,
		clock:        clockwork.NewRealClock(),
		log:          zap.NewNop(),
		successDelay: DefaultSuccessDelay,
		state:        Collecting,
	}
}

func (h *Handshake) WithClock(c clockwork.Clock) *Handshake {
	if c != nil {
		h.clock = c
	}
	return h
}

func (h *Handshake) WithLogger(log *zap.Logger) *Handshake {
	if log != nil {
		h.log = log
	}
	return h
}

func (h *Handshake) WithSuccessDelay(d time.Duration) *Handshake {
	if d >= 0 {
		h.successDelay = d
	}
	return h
}

// WithOnSucceeded sets the callback fired once the success delay has passed.
func (h *Handshake) WithOnSucceeded(fn func()) *Handshake {
	h.onSucceeded = fn
	return h
}

// WithOnTransition observes every state change.
func (h *Handshake) WithOnTransition(fn func(from, to State)) *Handshake {
	h.onTransition = fn
	return h
}

// State is the current state.
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err is the failure that ended the last attempt, nil unless State is Failed.
func (h *Handshake) Err() *Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Submit runs an attempt to completion. It returns nil on success and an
// *Error when the attempt failed.
func (h *Handshake) Submit(ctx context.Context, order Order) error {
	if err := h.begin(); err != nil {
		return err
	}
	defer h.end()

	a := &attempt{order: order}
	state := Collecting
	for !state.Terminal() {
		next, failure := h.step(state)(ctx, a)
		if failure != nil {
			h.log.Warn("payment attempt failed",
				zap.Stringer("state", state),
				zap.Stringer("kind", failure.Kind),
				zap.Error(failure.Err))
			h.fail(failure)
			return failure
		}
		if !h.transition(state, next) {
			return ErrClosed
		}
		state = next
	}

	h.log.Info("subscription active", zap.String("membership", string(order.Membership)))
	h.scheduleSuccess()
	return nil
}

// Close abandons any running attempt and cancels a pending OnSucceeded.
// Results that arrive afterwards do not change the state.
func (h *Handshake) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
	}
}

func (h *Handshake) begin() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		return ErrClosed
	case h.running:
		return ErrInProgress
	case h.state == Succeeded:
		return ErrCompleted
	}
	h.running = true
	h.state = Collecting
	h.lastErr = nil
	return nil
}

func (h *Handshake) end() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
}

func (h *Handshake) transition(from, to State) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.state = to
	fn := h.onTransition
	h.mu.Unlock()

	h.log.Debug("checkout transition", zap.Stringer("from", from), zap.Stringer("to", to))
	if fn != nil {
		fn(from, to)
	}
	return true
}

func (h *Handshake) fail(e *Error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	from := h.state
	h.state = Failed
	h.lastErr = e
	fn := h.onTransition
	h.mu.Unlock()

	if fn != nil {
		fn(from, Failed)
	}
}

func (h *Handshake) scheduleSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.onSucceeded == nil {
		return
	}
	h.timer = h.clock.AfterFunc(h.successDelay, h.onSucceeded)
}

type stepFunc func(ctx context.Context, a *attempt) (State, *Error)

func (h *Handshake) step(s State) stepFunc {
	switch s {
	case Collecting:
		return h.collect
	case MethodCreation:
		return h.createMethod
	case SubscriptionRequest:
		return h.requestSubscription
	case Confirmation:
		return h.confirm
	case Verification:
		return h.verify
	default:
		return func(context.Context, *attempt) (State, *Error) {
			return Failed, &Error{Kind: KindUnexpected, Message: MsgGeneric}
		}
	}
}

func (h *Handshake) collect(ctx context.Context, a *attempt) (State, *Error) {
	if strings.TrimSpace(a.order.Email) == "" || !a.order.Membership.Paid() {
		return Failed, &Error{Kind: KindValidation, Message: MsgMissingDetails}
	}
	if err := h.sdk.Validate(ctx); err != nil {
		return Failed, &Error{Kind: KindValidation, Message: sdkMessage(err, MsgValidationFailed), Err: err}
	}
	return MethodCreation, nil
}

func (h *Handshake) createMethod(ctx context.Context, a *attempt) (State, *Error) {
	id, err := h.sdk.CreatePaymentMethod(ctx, a.order.Email)
	if err != nil {
		return Failed, &Error{Kind: KindMethodCreation, Message: sdkMessage(err, MsgMethodFailed), Err: err}
	}
	if id == "" {
		return Failed, &Error{Kind: KindMethodCreation, Message: MsgMethodFailed}
	}
	a.paymentMethodID = id
	return SubscriptionRequest, nil
}

func (h *Handshake) requestSubscription(ctx context.Context, a *attempt) (State, *Error) {
	res, err := h.subs.CreateSubscription(ctx, portalclient.SubscriptionRequest{
		Email:           a.order.Email,
		Membership:      a.order.Membership,
		PaymentMethodID: a.paymentMethodID,
	})
	if err != nil {
		return Failed, &Error{Kind: KindSubscription, Message: portalMessage(err), Err: err}
	}
	a.result = res
	return subscriptionResponse(res)
}

// subscriptionResponse picks the next state from the create-subscription
// response shape.
func subscriptionResponse(res *portalclient.SubscriptionResult) (State, *Error) {
	switch {
	case res == nil:
		return Failed, &Error{Kind: KindUnexpected, Message: MsgUnexpectedStatus}
	case res.Status == portalclient.StatusActive:
		return Succeeded, nil
	case res.Status == portalclient.StatusRequiresConfirmation && res.ClientSecret == "":
		return Failed, &Error{Kind: KindSubscription, Message: MsgMissingClientSecret}
	case res.Status == portalclient.StatusRequiresConfirmation:
		return Confirmation, nil
	default:
		return Failed, &Error{Kind: KindUnexpected, Message: MsgUnexpectedStatus}
	}
}

func (h *Handshake) confirm(ctx context.Context, a *attempt) (State, *Error) {
	status, err := h.sdk.ConfirmPayment(ctx, a.result.ClientSecret)
	if err != nil {
		return Failed, &Error{Kind: KindConfirmation, Message: confirmationMessage(err), Err: err}
	}
	if status != IntentSucceeded {
		return Failed, &Error{Kind: KindConfirmation, Message: MsgPaymentFailed}
	}
	return Verification, nil
}

func (h *Handshake) verify(ctx context.Context, a *attempt) (State, *Error) {
	status, err := h.subs.VerifySubscription(ctx, a.result.SubscriptionID)
	if err != nil {
		return Failed, &Error{Kind: KindVerification, Message: portalMessage(err), Err: err}
	}
	if status != portalclient.StatusActive {
		return Failed, &Error{Kind: KindVerification, Message: MsgNotActivated}
	}
	return Succeeded, nil
}
