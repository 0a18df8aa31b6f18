package controllers

import (
	"github.com/armonempire/portal/logger"
	"github.com/armonempire/portal/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func internalError(c *fiber.Ctx, message string, err error) error {
	logger.L().Error(message, zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(utils.ErrorResponse{
		Message: message,
		Error:   err.Error(),
	})
}
