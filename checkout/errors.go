package checkout

import (
	"errors"
	"fmt"

	"github.com/armonempire/portal/portalclient"
)

// Messages shown to the member. Every failed attempt ends on one of these
// or on text supplied by the payment SDK or the portal.
const (
	MsgMissingDetails      = "User email or membership details are missing."
	MsgValidationFailed    = "Failed to validate payment details."
	MsgMethodFailed        = "Failed to create payment method."
	MsgTryDifferentMethod  = "Unable to process payment. Please try a different payment method."
	MsgCardDeclined        = "Your card was declined. Please try a different payment method."
	MsgPaymentFailed       = "Payment failed. Please try again."
	MsgMissingClientSecret = "Payment initialization failed. Please contact support."
	MsgUnexpectedStatus    = "Unexpected subscription status. Please try again."
	MsgNotActivated        = "Subscription not activated. Please contact support."
	MsgGeneric             = "An error occurred. Please try again or contact support."
)

// errNoPaymentIntent is the portal error text for an invoice Stripe could not
// attach a payment intent to.
const errNoPaymentIntent = "No payment intent available for the invoice"

// CodeCardDeclined is the SDK error code for a declined card.
const CodeCardDeclined = "card_declined"

var (
	ErrInProgress = errors.New("checkout: payment already in progress")
	ErrCompleted  = errors.New("checkout: payment already succeeded")
	ErrClosed     = errors.New("checkout: handshake closed")
)

// Kind groups failures by the stage that produced them.
type Kind int

const (
	KindValidation Kind = iota
	KindMethodCreation
	KindSubscription
	KindConfirmation
	KindVerification
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindMethodCreation:
		return "method_creation"
	case KindSubscription:
		return "subscription"
	case KindConfirmation:
		return "confirmation"
	case KindVerification:
		return "verification"
	default:
		return "unexpected"
	}
}

// Error ends an attempt. Message is safe to show the member.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("checkout: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SDKError is an error reported by the payment SDK.
type SDKError struct {
	Code    string
	Message string
}

func (e *SDKError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment sdk: %s (%s)", e.Message, e.Code)
	}
	return "payment sdk: " + e.Message
}

// sdkMessage prefers the SDK's own text over fallback.
func sdkMessage(err error, fallback string) string {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) && sdkErr.Message != "" {
		return sdkErr.Message
	}
	return fallback
}

func confirmationMessage(err error) string {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) && sdkErr.Code == CodeCardDeclined {
		return MsgCardDeclined
	}
	return sdkMessage(err, MsgPaymentFailed)
}

// portalMessage maps a portal failure to member-facing text. The known
// invoice error gets a friendly message; otherwise details win over the error
// text, and anything that is not a portal response is generic.
func portalMessage(err error) string {
	var apiErr *portalclient.APIError
	if !errors.As(err, &apiErr) {
		return MsgGeneric
	}
	switch {
	case apiErr.Err == errNoPaymentIntent:
		return MsgTryDifferentMethod
	case apiErr.Details != "":
		return apiErr.Details
	case apiErr.Text() != "":
		return apiErr.Text()
	default:
		return MsgGeneric
	}
}
