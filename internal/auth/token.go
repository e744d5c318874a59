// Package auth verifies the tokens the platform issues for its users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for user. Token issuance belongs to the platform; this
// exists for development tooling and tests.
func (v *JWTVerifier) Issue(user domain.User, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &CustomClaims{
		UserID: string(user.ID),
		Name:   user.Username,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses and validates signature, issuer and expiry.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (domain.User, error) {
	if tokenString == "" {
		return domain.User{}, fmt.Errorf("missing token: %w", domain.ErrUnauthorized)
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, jwt.ErrSignatureInvalid)
	}

	return userFrom(claims)
}

// Peek reads the identity in a token without checking its signature. Only
// for clients that need to know who they are; servers must call Verify.
func Peek(tokenString string) (domain.User, error) {
	claims := &CustomClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return userFrom(claims)
}

func userFrom(claims *CustomClaims) (domain.User, error) {
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	name := claims.Name
	if name == "" {
		name = claims.UserID
	}
	user, err := domain.NewUser(domain.UserID(claims.UserID), name, role)
	if err != nil {
		if errors.Is(err, domain.ErrUsernameTooLong) {
			user, err = domain.NewUser(domain.UserID(claims.UserID), name[:domain.MaxUsernameLen], role)
		}
		if err != nil {
			return domain.User{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
		}
	}
	return *user, nil
}
