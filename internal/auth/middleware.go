package auth

import (
	"github.com/gofiber/fiber/v2"
)

// JWTMiddleware validates bearer tokens and stores user_id in locals.
// Browsers cannot set headers on a websocket upgrade, so the token may also
// arrive as the access_token query parameter.
func JWTMiddleware(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := parseBearer(c.Get("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		userID, err := svc.ValidateToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
