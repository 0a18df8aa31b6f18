package middleware

import (
	"github.com/armonempire/portal/db"
	"github.com/gofiber/fiber/v2"
)

// RequireAdmin re-reads the caller so a revoked admin loses access before
// their token expires. Must run after Protected.
func RequireAdmin(members db.MemberStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := members.ByID(c.UserContext(), UserID(c))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		if !u.IsAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "You don't have permission to perform this action",
			})
		}
		return c.Next()
	}
}
