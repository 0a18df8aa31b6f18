package routes

import (
	"github.com/armonempire/portal/controllers"
	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/middleware"
	"github.com/gofiber/fiber/v2"
)

// SetupUserRoutes configures the member profile and admin review routes
func SetupUserRoutes(app *fiber.App, user *controllers.UserController, members db.MemberStore, secret string) {
	group := app.Group("/api/user", middleware.Protected(secret))
	group.Get("/", user.GetProfile)
	group.Put("/update", user.UpdateProfile)

	admin := middleware.RequireAdmin(members)
	group.Get("/members", admin, user.ListMembers)
	group.Patch("/verify-id", admin, user.VerifyID)
	group.Get("/:id/photo-id", admin, user.GetPhotoID)
}
