package routes

import (
	"github.com/armonempire/portal/controllers"
	"github.com/armonempire/portal/middleware"
	"github.com/gofiber/fiber/v2"
)

// SetupAuthRoutes configures all authentication related routes
func SetupAuthRoutes(app *fiber.App, auth *controllers.AuthController, secret string) {
	group := app.Group("/api/auth")

	// Public routes
	group.Post("/signup", auth.Register)
	group.Post("/login", auth.Login)
	group.Post("/refresh", auth.RefreshToken)
	group.Post("/forgot-password", auth.ForgotPassword)
	group.Post("/reset-password", auth.ResetPassword)

	// Protected routes
	group.Post("/logout", middleware.Protected(secret), auth.Logout)
}
