package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taxidispatch/internal/dispatch"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the caller identity inside an HS256 token.
type Claims struct {
	UserID string        `json:"user_id"`
	Role   dispatch.Role `json:"role"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for userID. A zero ttl means the token never expires.
func (i *Issuer) Issue(userID string, role dispatch.Role) (string, error) {
	if userID == "" {
		return "", errors.New("issue token: empty user id")
	}
	if !validRole(role) {
		return "", fmt.Errorf("issue token: invalid role %q", role)
	}
	now := i.now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "taxidispatch",
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify checks the signature and expiry and returns the caller.
func (i *Issuer) Verify(tokenString string) (dispatch.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return dispatch.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" || !validRole(claims.Role) {
		return dispatch.Actor{}, ErrInvalidToken
	}
	return dispatch.Actor{ID: claims.UserID, Role: claims.Role}, nil
}

func validRole(r dispatch.Role) bool {
	return r == dispatch.RoleClient || r == dispatch.RoleDriver || r == dispatch.RoleAdmin
}
