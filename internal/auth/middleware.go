package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const subjectKey contextKey = "authSubject"

// SubjectFromContext returns the authenticated token subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok && subject != ""
}

// JWTMiddleware accepts HS256-family bearer tokens signed with secret.
// When audience is set the token must list it.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	audience = strings.TrimSpace(audience)

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		if len(key) == 0 {
			abort(c, "authentication is not configured")
			return
		}

		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err.Error())
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			abort(c, "invalid audience")
			return
		case err != nil || !token.Valid:
			abort(c, "invalid token")
			return
		case claims.Subject == "":
			abort(c, "missing subject")
			return
		}

		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), subjectKey, claims.Subject))
		c.Set(string(subjectKey), claims.Subject)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
