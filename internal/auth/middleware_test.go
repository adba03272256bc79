package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.RegisteredClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newProtectedRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", JWTMiddleware(secret, audience), func(c *gin.Context) {
		subject, _ := SubjectFromContext(c.Request.Context())
		c.String(http.StatusOK, subject)
	})
	return r
}

func doRequest(r http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	r := newProtectedRouter(testSecret, "")
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "operator-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256, []byte(testSecret))

	resp := doRequest(r, "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != "operator-1" {
		t.Fatalf("unexpected subject: %s", resp.Body.String())
	}
}

func TestJWTMiddlewareRejections(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "s", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	expired := jwt.RegisteredClaims{Subject: "s", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}
	noSubject := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := []struct {
		name     string
		audience string
		header   string
	}{
		{"missing header", "", ""},
		{"wrong scheme", "", "Basic abc"},
		{"empty token", "", "Bearer   "},
		{"wrong secret", "", "Bearer " + signToken(t, valid, jwt.SigningMethodHS256, []byte("other"))},
		{"expired", "", "Bearer " + signToken(t, expired, jwt.SigningMethodHS256, []byte(testSecret))},
		{"no subject", "", "Bearer " + signToken(t, noSubject, jwt.SigningMethodHS256, []byte(testSecret))},
		{"wrong audience", "okra", "Bearer " + signToken(t, valid, jwt.SigningMethodHS256, []byte(testSecret))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(newProtectedRouter(testSecret, tc.audience), tc.header)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}

func TestJWTMiddlewareWithoutSecretRejectsEverything(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{Subject: "s"}, jwt.SigningMethodHS256, []byte(testSecret))

	resp := doRequest(newProtectedRouter("", ""), "Bearer "+token)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
