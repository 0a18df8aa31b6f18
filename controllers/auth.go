package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL    = 24 * time.Hour
	refreshTokenTTL   = 7 * 24 * time.Hour
	minPasswordLength = 8
)

// ResetTokenStore issues and redeems password reset tokens.
type ResetTokenStore interface {
	Issue(ctx context.Context, userID uint) (string, error)
	Consume(ctx context.Context, token string) (uint, error)
}

// AuthController serves /api/auth.
type AuthController struct {
	members db.MemberStore
	resets  ResetTokenStore
	mailer  utils.Sender
	secret  []byte
	appURL  string
	clock   clockwork.Clock
	log     *zap.Logger
}

func NewAuthController(members db.MemberStore, resets ResetTokenStore, mailer utils.Sender, secret, appURL string, clock clockwork.Clock, log *zap.Logger) *AuthController {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthController{
		members: members,
		resets:  resets,
		mailer:  mailer,
		secret:  []byte(secret),
		appURL:  appURL,
		clock:   clock,
		log:     log,
	}
}

func (a *AuthController) issueToken(u *models.User, typ string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"id":      u.ID,
		"email":   u.Email,
		"isAdmin": u.IsAdmin,
		"typ":     typ,
		"iat":     a.clock.Now().Unix(),
		"exp":     a.clock.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Register handles member signup
func (a *AuthController) Register(c *fiber.Ctx) error {
	type SignupInput struct {
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		Email       string `json:"email"`
		PhoneNumber string `json:"phoneNumber"`
		Password    string `json:"password"`
	}

	input := new(SignupInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	input.Email = models.NormalizeEmail(input.Email)
	if input.Email == "" || input.Password == "" || strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing required fields",
		})
	}
	if len(input.Password) < minPasswordLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Password must be at least %d characters", minPasswordLength),
		})
	}

	ctx := c.UserContext()
	if _, err := a.members.ByEmail(ctx, input.Email); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "User with this email already exists",
		})
	} else if !errors.Is(err, db.ErrNotFound) {
		return internalError(c, "Failed to check existing user", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return internalError(c, "Failed to hash password", err)
	}

	user := &models.User{
		FirstName:   strings.TrimSpace(input.FirstName),
		LastName:    strings.TrimSpace(input.LastName),
		Email:       input.Email,
		PhoneNumber: input.PhoneNumber,
		Password:    string(hashed),
		Membership:  models.TierFree,
	}
	if err := a.members.Create(ctx, user); err != nil {
		a.log.Error("failed to create user", zap.Error(err))
		return internalError(c, "Failed to create user", err)
	}

	token, err := a.issueToken(user, "access", accessTokenTTL)
	if err != nil {
		return internalError(c, "Failed to generate token", err)
	}

	a.log.Info("member registered", zap.Uint("user_id", user.ID))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":  models.NewProfile(user, a.clock.Now(), false),
		"token": token,
	})
}

// Login handles member authentication
func (a *AuthController) Login(c *fiber.Ctx) error {
	type LoginInput struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	user, err := a.members.ByEmail(c.UserContext(), input.Email)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := a.issueToken(user, "access", accessTokenTTL)
	if err != nil {
		return internalError(c, "Failed to generate token", err)
	}
	refresh, err := a.issueToken(user, "refresh", refreshTokenTTL)
	if err != nil {
		return internalError(c, "Failed to generate refresh token", err)
	}

	return c.JSON(fiber.Map{
		"token":        token,
		"refreshToken": refresh,
		"user":         models.NewProfile(user, a.clock.Now(), true),
	})
}

// Logout doesn't actually invalidate the token as JWTs are stateless
func (a *AuthController) Logout(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Successfully logged out",
	})
}

// RefreshToken generates a new access token using a refresh token
func (a *AuthController) RefreshToken(c *fiber.Ctx) error {
	type RefreshRequest struct {
		RefreshToken string `json:"refreshToken"`
	}

	input := new(RefreshRequest)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.Parse(input.RefreshToken, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid refresh token",
		})
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	if typ, _ := claims["typ"].(string); typ != "refresh" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid refresh token",
		})
	}
	id, _ := claims["id"].(float64)

	user, err := a.members.ByID(c.UserContext(), uint(id))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid refresh token",
		})
	}

	access, err := a.issueToken(user, "access", accessTokenTTL)
	if err != nil {
		return internalError(c, "Failed to generate token", err)
	}
	return c.JSON(fiber.Map{
		"token": access,
	})
}

// ForgotPassword mails a reset link. The response never reveals whether the
// address belongs to a member.
func (a *AuthController) ForgotPassword(c *fiber.Ctx) error {
	type ForgotInput struct {
		Email string `json:"email"`
	}

	input := new(ForgotInput)
	if err := c.BodyParser(input); err != nil || strings.TrimSpace(input.Email) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Email is required",
		})
	}

	ctx := c.UserContext()
	response := fiber.Map{"message": "If that email is registered, a reset link is on its way."}

	user, err := a.members.ByEmail(ctx, input.Email)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			a.log.Error("forgot password lookup failed", zap.Error(err))
		}
		return c.JSON(response)
	}

	token, err := a.resets.Issue(ctx, user.ID)
	if err != nil {
		return internalError(c, "Failed to create reset token", err)
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", a.appURL, token)
	body := fmt.Sprintf(`
		<p>Hi %s,</p>
		<p>We received a request to reset your Armon Empire password.</p>
		<p><a href="%s">Choose a new password</a>. This link expires in one hour.</p>
		<p>If you didn't ask for this, you can ignore this email.</p>
	`, user.FirstName, link)
	if err := a.mailer.Send(user.Email, "Reset your password", body); err != nil {
		a.log.Error("failed to send reset email", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	return c.JSON(response)
}

// ResetPassword redeems a reset token.
func (a *AuthController) ResetPassword(c *fiber.Ctx) error {
	type ResetInput struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}

	input := new(ResetInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if len(input.Password) < minPasswordLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Password must be at least %d characters", minPasswordLength),
		})
	}

	ctx := c.UserContext()
	userID, err := a.resets.Consume(ctx, input.Token)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Reset link is invalid or has expired",
		})
	}

	user, err := a.members.ByID(ctx, userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Reset link is invalid or has expired",
		})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return internalError(c, "Failed to hash password", err)
	}
	user.Password = string(hashed)
	if err := a.members.Save(ctx, user); err != nil {
		return internalError(c, "Failed to update password", err)
	}

	return c.JSON(fiber.Map{
		"message": "Password has been reset",
	})
}
