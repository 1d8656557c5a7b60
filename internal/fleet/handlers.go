package fleet

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Invalidator drops cached profile data after a fleet record changed.
type Invalidator interface {
	Invalidate(ctx context.Context, vehicleID string) error
}

func RegisterRoutes(r fiber.Router, lookup Lookup) {
	r.Get("/vehicles/:id", func(c *fiber.Ctx) error {
		profile, err := lookup.Profile(c.Context(), c.Params("id"))
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(profile)
	})

	invalidator, ok := lookup.(Invalidator)
	if !ok {
		return
	}
	r.Delete("/vehicles/:id/profile", func(c *fiber.Ctx) error {
		if err := invalidator.Invalidate(c.Context(), c.Params("id")); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
