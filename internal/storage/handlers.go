package storage

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes serves stored objects. Reads are public: the URL returned
// by PutObject is what profiles and markers link to.
func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/*", func(c *fiber.Ctx) error {
		key := c.Params("*")
		if !validKey(key) {
			return fiber.NewError(fiber.StatusNotFound, ErrInvalidKey.Error())
		}
		obj, err := svc.GetObject(c.Context(), key)
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		c.Set(fiber.HeaderContentType, obj.ContentType)
		c.Set(fiber.HeaderCacheControl, "private, max-age=300")
		return c.Send(obj.Data)
	})
}
