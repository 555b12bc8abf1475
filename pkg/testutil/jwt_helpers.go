package testutil

import (
	"time"

	"frameworks/api_signaling/pkg/auth"

	"github.com/golang-jwt/jwt/v5"
)

// JWTTestHelper provides utilities for JWT testing
type JWTTestHelper struct {
	Secret []byte
}

// NewJWTTestHelper creates a new JWT test helper with a default test secret
func NewJWTTestHelper() *JWTTestHelper {
	return &JWTTestHelper{
		Secret: []byte("test-secret-for-unit-tests"),
	}
}

// NewJWTTestHelperWithSecret creates a new JWT test helper with a custom secret
func NewJWTTestHelperWithSecret(secret []byte) *JWTTestHelper {
	return &JWTTestHelper{
		Secret: secret,
	}
}

// GenerateValidJWT generates a valid client token for testing
func (h *JWTTestHelper) GenerateValidJWT(clientID, role string) (string, error) {
	return auth.GenerateJWT(clientID, role, h.Secret)
}

// GenerateExpiredJWT generates an expired client token for testing
func (h *JWTTestHelper) GenerateExpiredJWT(clientID, role string) (string, error) {
	claims := &auth.Claims{
		ClientID: clientID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)), // Expired 1 hour ago
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)), // Issued 2 hours ago
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// GenerateJWTWithCustomExpiry generates a client token with custom expiry time
func (h *JWTTestHelper) GenerateJWTWithCustomExpiry(clientID, role string, expiresAt time.Time) (string, error) {
	claims := &auth.Claims{
		ClientID: clientID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// GenerateMalformedJWT generates a malformed token for testing error scenarios
func (h *JWTTestHelper) GenerateMalformedJWT() string {
	return "invalid.jwt.token.format"
}

// GenerateJWTWithWrongSecret generates a token signed with the wrong secret
func (h *JWTTestHelper) GenerateJWTWithWrongSecret(clientID, role string) (string, error) {
	wrongSecret := []byte("wrong-secret")
	return auth.GenerateJWT(clientID, role, wrongSecret)
}

// GenerateJWTWithNoneAlgorithm generates a token with "none" algorithm (security vulnerability test)
func (h *JWTTestHelper) GenerateJWTWithNoneAlgorithm(clientID, role string) (string, error) {
	claims := &auth.Claims{
		ClientID: clientID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	return token.SignedString(jwt.UnsafeAllowNoneSignatureType)
}

// ValidateJWT validates a token using the test helper's secret
func (h *JWTTestHelper) ValidateJWT(tokenString string) (*auth.Claims, error) {
	return auth.ValidateJWT(tokenString, h.Secret)
}

// TestClient represents a broker client identity for JWT generation
type TestClient struct {
	ClientID string
	Role     string
}

// DefaultTestProducer returns a default producer identity
func DefaultTestProducer() TestClient {
	return TestClient{
		ClientID: "kiosk-test-1",
		Role:     auth.RoleProducer,
	}
}

// DefaultTestConsumer returns a default consumer identity
func DefaultTestConsumer() TestClient {
	return TestClient{
		ClientID: "viewer-test-1",
		Role:     auth.RoleConsumer,
	}
}

// GenerateJWT generates a token for the test client
func (c TestClient) GenerateJWT(helper *JWTTestHelper) (string, error) {
	return helper.GenerateValidJWT(c.ClientID, c.Role)
}

// GenerateExpiredJWT generates an expired token for the test client
func (c TestClient) GenerateExpiredJWT(helper *JWTTestHelper) (string, error) {
	return helper.GenerateExpiredJWT(c.ClientID, c.Role)
}
