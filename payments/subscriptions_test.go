package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/armonempire/portal/db/dbtest"
	"github.com/armonempire/portal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPrices = map[string]string{"Bronze": "price_bronze", "Silver": "price_silver", "Gold": "price_gold"}

type fakeStripe struct {
	mu       sync.Mutex
	calls    []string
	forms    map[string][]map[string][]string
	handlers map[string]http.HandlerFunc
}

func newFakeStripe(t *testing.T) (*fakeStripe, *StripeClient) {
	f := &fakeStripe{forms: map[string][]map[string][]string{}, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-06-20", r.Header.Get("Stripe-Version"))
		assert.NoError(t, r.ParseForm())
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.calls = append(f.calls, key)
		f.forms[key] = append(f.forms[key], r.Form)
		h, ok := f.handlers[key]
		f.mu.Unlock()
		if !ok {
			t.Errorf("unexpected stripe call %s", key)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, NewStripeClient("sk_test").WithBaseURL(srv.URL)
}

func (f *fakeStripe) on(key, body string) {
	f.handlers[key] = func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) }
}

func (f *fakeStripe) called(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func newService(t *testing.T, seed ...models.User) (*Service, *fakeStripe, *dbtest.Members) {
	f, client := newFakeStripe(t)
	members := dbtest.NewMembers(seed...)
	return NewService(client, members, testPrices, nil, nil), f, members
}

func TestCreateSubscriptionRequiresConfirmation(t *testing.T) {
	svc, f, members := newService(t, models.User{Email: "jay@example.com", FirstName: "Jay"})
	f.on("POST /v1/customers", `{"id":"cus_1","email":"jay@example.com"}`)
	f.on("POST /v1/subscriptions", `{"id":"sub_1","status":"incomplete","customer":"cus_1",
		"latest_invoice":{"id":"in_1","payment_intent":{"id":"pi_1","status":"requires_action","client_secret":"pi_1_secret"}}}`)

	res, err := svc.CreateSubscription(context.Background(), "jay@example.com", models.TierGold, "pm_1")
	require.NoError(t, err)
	assert.Equal(t, StatusRequiresConfirmation, res.Status)
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.Equal(t, "sub_1", res.SubscriptionID)

	form := f.forms["POST /v1/subscriptions"][0]
	assert.Equal(t, []string{"price_gold"}, form["items[0][price]"])
	assert.Equal(t, []string{"default_incomplete"}, form["payment_behavior"])
	assert.Equal(t, []string{"latest_invoice.payment_intent"}, form["expand[]"])
	assert.Equal(t, []string{"pm_1"}, f.forms["POST /v1/customers"][0]["invoice_settings[default_payment_method]"])

	u, _ := members.ByEmail(context.Background(), "jay@example.com")
	assert.Equal(t, "cus_1", u.StripeCustomerID)
	assert.Equal(t, "sub_1", u.SubscriptionID)
	assert.Equal(t, "incomplete", u.PaymentStatus)
	assert.Equal(t, models.TierFree, u.Membership)
}

func TestCreateSubscriptionActive(t *testing.T) {
	svc, f, members := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1"})
	f.on("POST /v1/payment_methods/pm_2/attach", `{"id":"pm_2"}`)
	f.on("POST /v1/customers/cus_1", `{"id":"cus_1"}`)
	f.on("POST /v1/subscriptions", `{"id":"sub_2","status":"active","customer":"cus_1","latest_invoice":"in_2"}`)

	res, err := svc.CreateSubscription(context.Background(), "jay@example.com", models.TierSilver, "pm_2")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Status)
	assert.Empty(t, res.ClientSecret)

	u, _ := members.ByEmail(context.Background(), "jay@example.com")
	assert.Equal(t, models.TierSilver, u.Membership)
	assert.Equal(t, 0, f.called("POST /v1/customers"))
}

func TestCreateSubscriptionWithoutPaymentIntent(t *testing.T) {
	svc, f, _ := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1"})
	f.on("POST /v1/subscriptions", `{"id":"sub_3","status":"incomplete","customer":"cus_1","latest_invoice":{"id":"in_3","payment_intent":null}}`)

	_, err := svc.CreateSubscription(context.Background(), "jay@example.com", models.TierBronze, "")
	require.ErrorIs(t, err, ErrNoPaymentIntent)
	assert.Equal(t, "No payment intent available for the invoice", err.Error())
}

func TestCreateSubscriptionMovesExisting(t *testing.T) {
	svc, f, members := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1", SubscriptionID: "sub_1", Membership: models.TierBronze})
	f.on("GET /v1/subscriptions/sub_1", `{"id":"sub_1","status":"active","customer":"cus_1","items":{"data":[{"id":"si_1","price":{"id":"price_bronze"}}]}}`)
	f.on("POST /v1/subscriptions/sub_1", `{"id":"sub_1","status":"active","customer":"cus_1"}`)

	res, err := svc.CreateSubscription(context.Background(), "jay@example.com", models.TierGold, "")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Status)
	assert.Equal(t, 0, f.called("POST /v1/subscriptions"))
	assert.Equal(t, []string{"si_1"}, f.forms["POST /v1/subscriptions/sub_1"][0]["items[0][id]"])

	u, _ := members.ByEmail(context.Background(), "jay@example.com")
	assert.Equal(t, models.TierGold, u.Membership)
}

func TestCreateSubscriptionCancelsIncompleteBeforeRetry(t *testing.T) {
	svc, f, members := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1", SubscriptionID: "sub_old", PaymentStatus: "incomplete"})
	f.on("GET /v1/subscriptions/sub_old", `{"id":"sub_old","status":"incomplete","customer":"cus_1"}`)
	f.on("DELETE /v1/subscriptions/sub_old", `{"id":"sub_old","status":"canceled","customer":"cus_1"}`)
	f.on("POST /v1/subscriptions", `{"id":"sub_new","status":"incomplete","customer":"cus_1",
		"latest_invoice":{"id":"in_2","payment_intent":{"id":"pi_2","status":"requires_payment_method","client_secret":"pi_2_secret"}}}`)

	res, err := svc.CreateSubscription(context.Background(), "jay@example.com", models.TierGold, "")
	require.NoError(t, err)
	assert.Equal(t, "sub_new", res.SubscriptionID)
	assert.Equal(t, 1, f.called("DELETE /v1/subscriptions/sub_old"))
	assert.Equal(t, 1, f.called("POST /v1/subscriptions"))

	u, _ := members.ByEmail(context.Background(), "jay@example.com")
	assert.Equal(t, "sub_new", u.SubscriptionID)
}

func TestCreateSubscriptionLeavesCanceledAlone(t *testing.T) {
	svc, f, _ := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1", SubscriptionID: "sub_old"})
	f.on("GET /v1/subscriptions/sub_old", `{"id":"sub_old","status":"canceled","customer":"cus_1"}`)
	f.on("POST /v1/subscriptions", `{"id":"sub_new","status":"active","customer":"cus_1","latest_invoice":"in_2"}`)

	res, err := svc.CreateSubscription(context.Background(), "jay@example.com", models.TierBronze, "")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Status)
	assert.Equal(t, 0, f.called("DELETE /v1/subscriptions/sub_old"))
}

func TestCreateSubscriptionRejectsFreeAndUnknownMember(t *testing.T) {
	svc, _, _ := newService(t, models.User{Email: "jay@example.com"})
	_, err := svc.CreateSubscription(context.Background(), "jay@example.com", models.TierFree, "pm")
	assert.ErrorIs(t, err, ErrUnknownTier)

	_, err = svc.CreateSubscription(context.Background(), "ghost@example.com", models.TierGold, "pm")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestStripeErrorDecoded(t *testing.T) {
	svc, f, _ := newService(t, models.User{Email: "jay@example.com"})
	f.handlers["POST /v1/customers"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "card_error", "code": "card_declined", "message": "Your card was declined."},
		})
	}

	_, err := svc.CreateSubscription(context.Background(), "jay@example.com", models.TierGold, "pm_bad")
	var se *StripeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "card_declined", se.Code)
	assert.Equal(t, http.StatusPaymentRequired, se.StatusCode)
}

func TestVerifySubscription(t *testing.T) {
	svc, f, members := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1", SubscriptionID: "sub_1"})
	f.on("GET /v1/subscriptions/sub_1", `{"id":"sub_1","status":"active","customer":"cus_1","items":{"data":[{"id":"si_1","price":{"id":"price_silver"}}]}}`)
	u, _ := members.ByEmail(context.Background(), "jay@example.com")

	status, err := svc.VerifySubscription(context.Background(), u.ID, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "active", status)

	u, _ = members.ByID(context.Background(), u.ID)
	assert.Equal(t, models.TierSilver, u.Membership)
	assert.Equal(t, models.PaymentActive, u.PaymentStatus)
}

func TestVerifySubscriptionOtherCustomer(t *testing.T) {
	svc, f, members := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1"})
	f.on("GET /v1/subscriptions/sub_9", `{"id":"sub_9","status":"active","customer":"cus_other"}`)
	u, _ := members.ByEmail(context.Background(), "jay@example.com")

	_, err := svc.VerifySubscription(context.Background(), u.ID, "sub_9")
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestCancelAndChangeTier(t *testing.T) {
	svc, f, members := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1", SubscriptionID: "sub_1", Membership: models.TierGold})
	f.on("GET /v1/subscriptions/sub_1", `{"id":"sub_1","status":"active","customer":"cus_1","items":{"data":[{"id":"si_1","price":{"id":"price_gold"}}]}}`)
	f.on("POST /v1/subscriptions/sub_1", `{"id":"sub_1","status":"active"}`)
	f.on("DELETE /v1/subscriptions/sub_1", `{"id":"sub_1","status":"canceled"}`)
	ctx := context.Background()

	require.NoError(t, svc.ChangeTier(ctx, "jay@example.com", models.TierBronze))
	u, _ := members.ByEmail(ctx, "jay@example.com")
	assert.Equal(t, models.TierBronze, u.Membership)

	require.NoError(t, svc.Cancel(ctx, "jay@example.com"))
	u, _ = members.ByEmail(ctx, "jay@example.com")
	assert.Equal(t, models.TierFree, u.Membership)
	assert.Empty(t, u.SubscriptionID)
	assert.Equal(t, models.PaymentCanceled, u.PaymentStatus)

	assert.ErrorIs(t, svc.Cancel(ctx, "jay@example.com"), ErrNoSubscription)
}

func TestPaymentMethodAndSetupIntent(t *testing.T) {
	svc, f, members := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1"}, models.User{Email: "new@example.com"})
	f.on("GET /v1/customers/cus_1", `{"id":"cus_1","invoice_settings":{"default_payment_method":{"id":"pm_1","type":"card",
		"card":{"brand":"visa","last4":"4242","exp_month":12,"exp_year":2030}}}}`)
	f.on("POST /v1/customers", `{"id":"cus_2"}`)
	f.on("POST /v1/setup_intents", `{"id":"seti_1","client_secret":"seti_1_secret"}`)
	ctx := context.Background()

	jay, _ := members.ByEmail(ctx, "jay@example.com")
	pm, err := svc.PaymentMethod(ctx, jay.ID)
	require.NoError(t, err)
	require.NotNil(t, pm)
	assert.Equal(t, "4242", pm.Card.Last4)

	fresh, _ := members.ByEmail(ctx, "new@example.com")
	pm, err = svc.PaymentMethod(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Nil(t, pm)

	secret, err := svc.SetupIntent(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "seti_1_secret", secret)
	fresh, _ = members.ByID(ctx, fresh.ID)
	assert.Equal(t, "cus_2", fresh.StripeCustomerID)
}

func TestUpdatePaymentMethod(t *testing.T) {
	svc, f, _ := newService(t, models.User{Email: "jay@example.com", StripeCustomerID: "cus_1", SubscriptionID: "sub_1"})
	f.on("POST /v1/payment_methods/pm_9/attach", `{"id":"pm_9"}`)
	f.on("POST /v1/customers/cus_1", `{"id":"cus_1"}`)
	f.on("POST /v1/subscriptions/sub_1", `{"id":"sub_1"}`)

	require.NoError(t, svc.UpdatePaymentMethod(context.Background(), "jay@example.com", "pm_9"))
	assert.Equal(t, []string{"pm_9"}, f.forms["POST /v1/subscriptions/sub_1"][0]["default_payment_method"])
	assert.Error(t, svc.UpdatePaymentMethod(context.Background(), "jay@example.com", ""))
}
