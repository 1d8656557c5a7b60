package tracking

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Manager, authMiddleware fiber.Handler) {
	r.Post("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		var req StartRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.VehicleID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "vehicle_id required")
		}
		session, err := svc.Start(c.Context(), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Get("/sessions/active", func(c *fiber.Ctx) error {
		return c.JSON(svc.ListActive())
	})

	r.Get("/sessions/:id", func(c *fiber.Ctx) error {
		session, err := svc.GetByID(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(session)
	})

	r.Post("/sessions/:id/stop", authMiddleware, func(c *fiber.Ctx) error {
		stopped, err := svc.Stop(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"stopped": stopped})
	})

	r.Post("/sessions/:id/positions", authMiddleware, func(c *fiber.Ctx) error {
		var req PositionInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		session, sample, err := svc.IngestPosition(c.Context(), c.Params("id"), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": session, "position": sample})
	})

	r.Get("/sessions/:id/positions", func(c *fiber.Ctx) error {
		points, err := svc.Positions(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(points)
	})

	r.Get("/sessions/:id/summary", func(c *fiber.Ctx) error {
		summary, err := svc.Summary(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(summary)
	})

	r.Get("/vehicles/:vehicleID/session", func(c *fiber.Ctx) error {
		session, ok := svc.GetActiveForVehicle(c.Params("vehicleID"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no active session")
		}
		return c.JSON(session)
	})

	r.Get("/vehicles/:vehicleID/history", func(c *fiber.Ctx) error {
		sessions, err := svc.History(c.Context(), c.Params("vehicleID"), c.QueryInt("limit", defaultHistoryLimit))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(sessions)
	})

	r.Post("/vehicles/:vehicleID/stop", authMiddleware, func(c *fiber.Ctx) error {
		stopped, err := svc.StopAllForVehicle(c.Context(), c.Params("vehicleID"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"stopped": stopped})
	})

	r.Post("/feeds/gtfsrt", authMiddleware, func(c *fiber.Ctx) error {
		result, err := svc.IngestFeed(c.Context(), c.Body())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(result)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionClosed):
		return fiber.NewError(fiber.StatusGone, err.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
