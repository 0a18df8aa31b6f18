package routes

import (
	"github.com/armonempire/portal/controllers"
	"github.com/armonempire/portal/middleware"
	"github.com/gofiber/fiber/v2"
)

// SetupStripeRoutes configures membership billing routes
func SetupStripeRoutes(app *fiber.App, stripe *controllers.StripeController, secret string) {
	group := app.Group("/api/stripe")

	// Signed by Stripe, not by a member token
	group.Post("/webhook", stripe.Webhook)

	protected := middleware.Protected(secret)
	group.Post("/create-subscription", protected, stripe.CreateSubscription)
	group.Get("/verify-subscription/:id", protected, stripe.VerifySubscription)
	group.Post("/update-subscription", protected, stripe.UpdateSubscription)
	group.Post("/cancel-subscription", protected, stripe.CancelSubscription)
	group.Get("/get-payment-method", protected, stripe.GetPaymentMethod)
	group.Post("/update-payment-method", protected, stripe.UpdatePaymentMethod)
	group.Post("/setup-intent", protected, stripe.CreateSetupIntent)
}
