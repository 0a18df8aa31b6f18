package routes

import (
	"github.com/armonempire/portal/controllers"
	"github.com/armonempire/portal/middleware"
	"github.com/gofiber/fiber/v2"
)

// SetupAppointmentRoutes configures all appointment related routes
func SetupAppointmentRoutes(app *fiber.App, appointments *controllers.AppointmentController, secret string) {
	group := app.Group("/api/appointments")
	group.Get("/", middleware.Protected(secret), appointments.GetAppointments)
	group.Get("/updates", middleware.ProtectedStream(secret), appointments.StreamUpdates)
	group.Post("/webhooks/acuity", appointments.AcuityWebhook)
}
