package profile

import (
	"errors"
	"io"
	"strings"
	"time"

	"backend-locshare/internal/auth"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the profile screen endpoints. Every response body
// is the editor state, including on failure.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler, maxPhotoBytes int64) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		editor, err := editorFor(c, svc)
		if err != nil {
			return err
		}
		return c.JSON(editor.Snapshot())
	})

	r.Put("/", authMiddleware, func(c *fiber.Ctx) error {
		editor, err := editorFor(c, svc)
		if err != nil {
			return err
		}
		var req SaveRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		return respond(c, editor, editor.Save(c.Context(), req.Name, req.Phone))
	})

	r.Post("/password", authMiddleware, func(c *fiber.Ctx) error {
		editor, err := editorFor(c, svc)
		if err != nil {
			return err
		}
		var req PasswordRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		authTime, _ := c.Locals("auth_time").(time.Time)
		return respond(c, editor, editor.ChangePassword(c.Context(), req.Password, req.Confirm, authTime))
	})

	r.Put("/photo", authMiddleware, func(c *fiber.Ctx) error {
		editor, err := editorFor(c, svc)
		if err != nil {
			return err
		}
		file, err := c.FormFile("photo")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "photo required")
		}
		if maxPhotoBytes > 0 && file.Size > maxPhotoBytes {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "photo too large")
		}
		contentType := file.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		if !strings.HasPrefix(contentType, "image/") {
			return fiber.NewError(fiber.StatusUnsupportedMediaType, "photo must be an image")
		}

		f, err := file.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return respond(c, editor, editor.UpdatePhoto(c.Context(), data, contentType))
	})

	r.Delete("/photo", authMiddleware, func(c *fiber.Ctx) error {
		editor, err := editorFor(c, svc)
		if err != nil {
			return err
		}
		return respond(c, editor, editor.RemovePhoto(c.Context()))
	})

	r.Delete("/messages", authMiddleware, func(c *fiber.Ctx) error {
		editor, err := editorFor(c, svc)
		if err != nil {
			return err
		}
		editor.ClearMessages()
		return c.JSON(editor.Snapshot())
	})
}

func editorFor(c *fiber.Ctx, svc *Service) (*Editor, error) {
	uid, _ := c.Locals("user_id").(string)
	editor, err := svc.Editor(uid)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return editor, nil
}

func respond(c *fiber.Ctx, editor *Editor, err error) error {
	status := fiber.StatusOK
	switch {
	case err == nil:
	case IsValidation(err):
		status = fiber.StatusBadRequest
	case errors.Is(err, auth.ErrRecentLoginRequired):
		status = fiber.StatusForbidden
	default:
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(editor.Snapshot())
}
