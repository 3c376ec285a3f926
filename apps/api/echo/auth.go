package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/trezcool/mtihani/core"
)

// Roles carried by verified identity claims. Token issuance belongs to the
// external identity service; this API only verifies and reads claims.
const (
	RoleCandidate = "candidate"
	RoleExaminer  = "examiner"
	RoleAdmin     = "admin"
)

var appJWTConfig = middleware.JWTConfig{
	SigningKey:    []byte(core.Conf.SecretKey),
	SigningMethod: middleware.AlgorithmHS256,
	ContextKey:    "candidateToken",
	Claims:        new(Claims),
}

// Claims represents the verified identity transmitted via a JWT.
// Subject is the candidate ID.
type Claims struct {
	jwt.StandardClaims
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	IsCandidate bool     `json:"is_candidate,omitempty"`
	IsExaminer  bool     `json:"is_examiner,omitempty"`
	IsAdmin     bool     `json:"is_admin,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// GetCandidateClaims builds the claims for a candidate identity. Exposed for
// tests and local tooling; production tokens come from the identity service.
func GetCandidateClaims(candidateID, username, email string, roles ...string) *Claims {
	now := time.Now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    core.Conf.AppName,
			Subject:   candidateID,
			ExpiresAt: now.Add(core.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username: username,
		Email:    email,
		Roles:    roles,
	}
	for _, role := range roles {
		switch role {
		case RoleCandidate:
			claims.IsCandidate = true
		case RoleExaminer:
			claims.IsExaminer = true
		case RoleAdmin:
			claims.IsAdmin = true
		}
	}
	if len(roles) == 0 {
		claims.IsCandidate = true
	}
	return claims
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(appJWTConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(appJWTConfig.SigningKey)
	if err != nil {
		return "", errTokenSigning
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(appJWTConfig.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}
