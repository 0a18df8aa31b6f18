package middleware

import (
	"fmt"
	"strconv"

	"github.com/armonempire/portal/logger"
	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// Protected validates the bearer token and stores the caller in Locals
// ("userID", "isAdmin").
func Protected(secret string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:     []byte(secret),
		SigningMethod:  jwtware.HS256,
		ErrorHandler:   jwtError,
		SuccessHandler: setLocals,
	})
}

// ProtectedStream is Protected for EventSource clients, which cannot set
// headers; the token comes from the "token" query parameter.
func ProtectedStream(secret string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:     []byte(secret),
		SigningMethod:  jwtware.HS256,
		TokenLookup:    "query:token",
		ErrorHandler:   jwtError,
		SuccessHandler: setLocals,
	})
}

func setLocals(c *fiber.Ctx) error {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid token",
		})
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid token claims",
		})
	}
	if typ, _ := claims["typ"].(string); typ == "refresh" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Refresh tokens cannot be used for API access",
		})
	}

	userID, err := extractUserID(claims)
	if err != nil {
		logger.L().Debug("rejecting token", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid user ID in token",
		})
	}
	isAdmin, _ := claims["isAdmin"].(bool)

	c.Locals("userID", userID)
	c.Locals("isAdmin", isAdmin)
	return c.Next()
}

// UserID returns the caller set by Protected, or 0.
func UserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}

// extractUserID handles multiple potential formats of user ID in token
func extractUserID(claims jwt.MapClaims) (uint, error) {
	idVal := claims["id"]
	if idVal == nil {
		return 0, fmt.Errorf("no ID found in claims")
	}

	switch v := idVal.(type) {
	case float64:
		if v <= 0 {
			return 0, fmt.Errorf("invalid ID %v", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse ID string: %v", err)
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported ID type: %T", v)
	}
}

// jwtError handles JWT errors
func jwtError(c *fiber.Ctx, err error) error {
	logger.L().Debug("jwt rejected", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "Unauthorized",
		"message": "Invalid or expired token",
	})
}
