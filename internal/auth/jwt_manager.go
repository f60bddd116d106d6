package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("jwt-manager")

// JWTManager generates Vonage application JWTs signed with the application's
// RSA private key.
type JWTManager struct {
	applicationID string
	privateKey    *rsa.PrivateKey
	tracer        trace.Tracer
}

// Claims represents the Vonage application JWT claims.
type Claims struct {
	ApplicationID string `json:"application_id"`
	jwt.RegisteredClaims
}

// NewJWTManager loads the RSA private key from privateKeyPath and returns a
// manager for the given Vonage application.
func NewJWTManager(applicationID, privateKeyPath string) (*JWTManager, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("application ID is required")
	}

	pemBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file %s: %w", privateKeyPath, err)
	}
	if len(pemBytes) == 0 {
		return nil, fmt.Errorf("private key file %s is empty", privateKeyPath)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
	}

	return &JWTManager{
		applicationID: applicationID,
		privateKey:    privateKey,
		tracer:        tracer,
	}, nil
}

// GenerateToken generates a short-lived Vonage application JWT.
func (jm *JWTManager) GenerateToken(ctx context.Context) (string, error) {
	_, span := jm.tracer.Start(ctx, "jwt.generate_token")
	defer span.End()

	now := time.Now()
	claims := &Claims{
		ApplicationID: jm.applicationID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        fmt.Sprintf("%s-%d", jm.applicationID, now.Unix()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(jm.privateKey)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	span.SetAttributes(
		attribute.String("jwt.application_id", jm.applicationID),
		attribute.String("jwt.id", claims.ID),
	)

	return tokenString, nil
}
