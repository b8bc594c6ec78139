package tracking

import (
	"errors"

	"backend-locshare/internal/location"
	"backend-locshare/internal/stream"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPointsLimit = 50
	maxPointsLimit     = 500
)

type onlineRequest struct {
	Online *bool `json:"online"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/state", authMiddleware, func(c *fiber.Ctx) error {
		state, err := svc.State(userID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(state)
	})

	r.Put("/online", authMiddleware, func(c *fiber.Ctx) error {
		var req onlineRequest
		if err := c.BodyParser(&req); err != nil || req.Online == nil {
			return fiber.NewError(fiber.StatusBadRequest, "online required")
		}
		state, err := svc.SetOnline(c.Context(), userID(c), *req.Online)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(state)
		}
		return c.JSON(state)
	})

	r.Post("/fixes", authMiddleware, func(c *fiber.Ctx) error {
		var req location.Fix
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		fix, err := svc.PushFix(userID(c), req)
		if err != nil {
			return fiber.NewError(locationStatus(err), err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(fix)
	})

	r.Get("/location/current", authMiddleware, func(c *fiber.Ctx) error {
		fix, err := svc.CurrentFix(c.Context(), userID(c))
		if err != nil {
			return fiber.NewError(locationStatus(err), err.Error())
		}
		return c.JSON(fix)
	})

	r.Get("/online-users", authMiddleware, func(c *fiber.Ctx) error {
		users, err := svc.OnlineUsers(c.Context(), userID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(users)
	})

	r.Get("/points", authMiddleware, func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultPointsLimit)
		if limit <= 0 || limit > maxPointsLimit {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 500")
		}
		points, err := svc.Points(c.Context(), userID(c), limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(points)
	})

	r.Delete("/session", authMiddleware, func(c *fiber.Ctx) error {
		svc.CloseSession(userID(c))
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

func locationStatus(err error) int {
	switch {
	case errors.Is(err, location.ErrInvalidFix):
		return fiber.StatusBadRequest
	case errors.Is(err, location.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, stream.ErrHubUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
