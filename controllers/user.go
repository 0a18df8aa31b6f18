package controllers

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/middleware"
	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// MaxPhotoBytes caps an identity photo upload.
const MaxPhotoBytes = 8 << 20

var photoTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/heic": true,
	"image/heif": true,
	"image/webp": true,
}

// UserController serves /api/user.
type UserController struct {
	members db.MemberStore
	photos  utils.PhotoUploader
	clock   clockwork.Clock
	log     *zap.Logger
}

// NewUserController builds the controller; photos may be nil.
func NewUserController(members db.MemberStore, photos utils.PhotoUploader, clock clockwork.Clock, log *zap.Logger) *UserController {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UserController{members: members, photos: photos, clock: clock, log: log}
}

// GetProfile godoc
// @Summary Get the caller's profile
// @Tags user
// @Produce json
// @Success 200 {object} models.Profile
// @Failure 404 {object} utils.ErrorResponse
// @Router /api/user [get]
func (u *UserController) GetProfile(c *fiber.Ctx) error {
	user, err := u.members.ByID(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(utils.ErrorResponse{
			Message: "User not found",
			Error:   err.Error(),
		})
	}
	return c.JSON(models.NewProfile(user, u.clock.Now(), true))
}

// formField returns a submitted field and whether it was present at all.
func formField(c *fiber.Ctx, key string) (string, bool) {
	if form, err := c.MultipartForm(); err == nil {
		if v, ok := form.Value[key]; ok && len(v) > 0 {
			return strings.TrimSpace(v[0]), true
		}
		return "", false
	}
	args := c.Request().PostArgs()
	if args.Has(key) {
		return strings.TrimSpace(string(args.Peek(key))), true
	}
	return "", false
}

// UpdateProfile godoc
// @Summary Update preferences and identity photo
// @Tags user
// @Accept multipart/form-data
// @Produce json
// @Param preferredBarber formData string false "Barber name from the roster"
// @Param drinkOfChoice formData string false "Drink, requires a Photo ID"
// @Param photoID formData file false "Photo ID image"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponse
// @Router /api/user/update [put]
func (u *UserController) UpdateProfile(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user, err := u.members.ByID(ctx, middleware.UserID(c))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(utils.ErrorResponse{
			Message: "User not found",
			Error:   err.Error(),
		})
	}

	if v, ok := formField(c, "firstName"); ok && v != "" {
		user.FirstName = v
	}
	if v, ok := formField(c, "lastName"); ok && v != "" {
		user.LastName = v
	}
	if v, ok := formField(c, "phoneNumber"); ok {
		user.PhoneNumber = v
	}
	if v, ok := formField(c, "email"); ok && v != "" && models.NormalizeEmail(v) != user.Email {
		if other, err := u.members.ByEmail(ctx, v); err == nil && other.ID != user.ID {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "User with this email already exists",
			})
		}
		user.Email = models.NormalizeEmail(v)
	}
	if v, ok := formField(c, "preferredBarber"); ok {
		user.PreferredBarber = v
	}
	if v, ok := formField(c, "drinkOfChoice"); ok {
		user.DrinkOfChoice = v
		user.WantsDrink = v != ""
	}
	if v, ok := formField(c, "wantsDrink"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			user.WantsDrink = b
		}
		if !user.WantsDrink {
			user.DrinkOfChoice = ""
		}
	}
	if v, ok := formField(c, "dob"); ok {
		if v == "" {
			user.DOB = nil
		} else {
			dob, err := time.Parse(models.DateLayout, v)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Date of birth must be YYYY-MM-DD",
				})
			}
			user.DOB = &dob
		}
	}

	if fh, err := c.FormFile("photoID"); err == nil {
		if fh.Size > MaxPhotoBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": fmt.Sprintf("Photo ID must be smaller than %d MB", MaxPhotoBytes>>20),
			})
		}
		contentType := strings.ToLower(fh.Header.Get("Content-Type"))
		if !photoTypes[contentType] {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Photo ID must be a JPEG, PNG, HEIC or WebP image",
			})
		}
		f, err := fh.Open()
		if err != nil {
			return internalError(c, "Failed to read Photo ID", err)
		}
		data, err := io.ReadAll(io.LimitReader(f, MaxPhotoBytes+1))
		f.Close()
		if err != nil {
			return internalError(c, "Failed to read Photo ID", err)
		}
		name := fh.Filename
		if v, ok := formField(c, "photoIDName"); ok && v != "" {
			name = v
		}
		user.SetPhoto(data, contentType, name)
		u.uploadReviewCopy(c, user)
	}

	if err := user.ValidatePreferences(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if user.DrinkOfChoice != "" && user.DOB != nil && models.AgeOn(*user.DOB, u.clock.Now()) < models.LegalDrinkingAge {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "You must be 21 or older to select a drink",
		})
	}

	if err := u.members.Save(ctx, user); err != nil {
		return internalError(c, "Failed to update profile", err)
	}

	u.log.Info("profile updated", zap.Uint("user_id", user.ID), zap.Bool("has_photo", user.HasPhoto()))
	return c.JSON(fiber.Map{
		"message": "Profile updated successfully",
		"user":    models.NewProfile(user, u.clock.Now(), true),
	})
}

func (u *UserController) uploadReviewCopy(c *fiber.Ctx, user *models.User) {
	if u.photos == nil {
		return
	}
	url, err := u.photos.UploadPhoto(c.UserContext(), user.PhotoData, utils.PhotoPublicID(user.ID))
	if err != nil {
		u.log.Warn("photo review copy upload failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return
	}
	user.PhotoReviewURL = url
}

// ListMembers godoc
// @Summary List members for ID review (admin)
// @Tags user
// @Produce json
// @Success 200 {array} models.Profile
// @Router /api/user/members [get]
func (u *UserController) ListMembers(c *fiber.Ctx) error {
	users, err := u.members.List(c.UserContext())
	if err != nil {
		return internalError(c, "Failed to fetch members", err)
	}
	now := u.clock.Now()
	out := make([]fiber.Map, 0, len(users))
	for i := range users {
		out = append(out, fiber.Map{
			"profile":        models.NewProfile(&users[i], now, false),
			"photoReviewUrl": users[i].PhotoReviewURL,
		})
	}
	return c.JSON(out)
}

// VerifyID godoc
// @Summary Mark a member's Photo ID as verified (admin)
// @Tags user
// @Accept json
// @Produce json
// @Router /api/user/verify-id [patch]
func (u *UserController) VerifyID(c *fiber.Ctx) error {
	type VerifyInput struct {
		UserID   uint `json:"userId"`
		Verified bool `json:"verified"`
	}

	input := new(VerifyInput)
	if err := c.BodyParser(input); err != nil || input.UserID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userId is required",
		})
	}

	ctx := c.UserContext()
	user, err := u.members.ByID(ctx, input.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}
	if err != nil {
		return internalError(c, "Failed to fetch member", err)
	}
	if input.Verified && !user.HasPhoto() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Member has no Photo ID on file",
		})
	}

	user.VerifiedID = input.Verified
	if err := u.members.Save(ctx, user); err != nil {
		return internalError(c, "Failed to update member", err)
	}

	u.log.Info("photo id reviewed",
		zap.Uint("user_id", user.ID),
		zap.Uint("admin_id", middleware.UserID(c)),
		zap.Bool("verified", input.Verified))
	return c.JSON(fiber.Map{
		"message": "Verification status updated",
		"user":    models.NewProfile(user, u.clock.Now(), false),
	})
}

// GetPhotoID streams a member's stored photo (admin).
func (u *UserController) GetPhotoID(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id",
		})
	}
	user, err := u.members.ByID(c.UserContext(), uint(id))
	if err != nil || !user.HasPhoto() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Photo ID not found",
		})
	}
	c.Set(fiber.HeaderContentType, user.PhotoContentType)
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(user.PhotoData)
}
