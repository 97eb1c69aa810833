package middlewares

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "

	// LocalUserID holds the authenticated identity ("" when anonymous).
	LocalUserID = "userID"
)

// Claims is our JWT payload; the subject is the user id that owns postbacks.
type Claims struct {
	jwt.RegisteredClaims
}

var (
	secretMu  sync.RWMutex
	jwtSecret []byte
)

// SetJWTSecret configures the HS256 signing key.
func SetJWTSecret(secret string) {
	secretMu.Lock()
	jwtSecret = []byte(strings.TrimSpace(secret))
	secretMu.Unlock()
}

func loadJWTSecret() ([]byte, error) {
	secretMu.RLock()
	sec := jwtSecret
	secretMu.RUnlock()
	if len(sec) > 0 {
		return sec, nil
	}
	// Prefer JWT_SECRET_KEY, fallback to JWT_SECRET
	env := os.Getenv("JWT_SECRET_KEY")
	if strings.TrimSpace(env) == "" {
		env = os.Getenv("JWT_SECRET")
	}
	if strings.TrimSpace(env) == "" {
		return nil, errors.New("JWT secret not configured (set JWT_SECRET_KEY or JWT_SECRET)")
	}
	return []byte(env), nil
}

var errNoToken = errors.New("no bearer token")

// parseBearer validates the Authorization header and returns the subject.
func parseBearer(c *fiber.Ctx) (string, error) {
	h := c.Get(authHeader)
	if h == "" {
		return "", errNoToken
	}
	if !strings.HasPrefix(strings.ToLower(h), strings.ToLower(bearerPrefix)) {
		return "", errors.New("missing/invalid Authorization header")
	}
	raw := strings.TrimSpace(h[len(bearerPrefix):])
	if raw == "" {
		return "", errors.New("invalid bearer token")
	}
	secret, err := loadJWTSecret()
	if err != nil {
		return "", err
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	var claims Claims
	token, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid or expired token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token missing subject")
	}
	return claims.Subject, nil
}

// OptionalAuth sets c.Locals("userID") when a valid token is present. With
// strict, a token that is present but invalid is rejected; otherwise the
// request continues as anonymous.
func OptionalAuth(strict bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject, err := parseBearer(c)
		switch {
		case err == nil:
			c.Locals(LocalUserID, subject)
		case errors.Is(err, errNoToken) || !strict:
			c.Locals(LocalUserID, "")
		default:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": err.Error()})
		}
		return c.Next()
	}
}

// UserID returns the identity set by the auth middlewares.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// GenerateJWT signs a new HS256 token for the given user, expiring in 24h.
func GenerateJWT(userID string) (string, error) {
	secret, err := loadJWTSecret()
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
