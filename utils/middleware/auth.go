package middleware

import (
	"errors"
	"strings"

	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/auth"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/response"
	"github.com/gofiber/fiber/v2"
)

const localUserID = "user_id"

// CourseAuthorRoles are the WordPress roles that may build courses
var CourseAuthorRoles = []string{"administrator", "editor", "author"}

// AuthMiddleware accepts bearer tokens minted by the WordPress plugin
type AuthMiddleware struct {
	jwtManager   *auth.JWTManager
	allowedRoles map[string]bool
	log          *utils.Logger
}

// NewAuthMiddleware creates the middleware. Without roles, CourseAuthorRoles apply.
func NewAuthMiddleware(jwtManager *auth.JWTManager, log *utils.Logger, roles ...string) *AuthMiddleware {
	if len(roles) == 0 {
		roles = CourseAuthorRoles
	}
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return &AuthMiddleware{
		jwtManager:   jwtManager,
		allowedRoles: allowed,
		log:          log,
	}
}

// Required rejects requests without a valid access token for a course author
func (m *AuthMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return response.Unauthorized(c, "Missing authorization token")
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				return response.Unauthorized(c, "Token has expired")
			}
			m.log.Debug("Rejected token", "ip", c.IP(), "error", err)
			return response.Unauthorized(c, "Invalid token")
		}
		if claims.TokenType != auth.TokenTypeAccess {
			return response.Unauthorized(c, "Invalid token type")
		}
		if !m.allowedRoles[claims.Role] {
			m.log.Info("Copilot denied for role", "user_id", claims.UserID, "role", claims.Role)
			return response.Forbidden(c, "")
		}

		c.Locals(localUserID, claims.UserID)
		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, found && token != ""
}

// GetUserID returns the WordPress user id Required stored on the request
func GetUserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(localUserID).(uint)
	return id, ok
}
