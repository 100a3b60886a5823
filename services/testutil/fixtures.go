package testutil

import (
	"time"

	"github.com/AfshinJalili/tradingplatform/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	DemoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TraderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	AdminUserID  = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

// GenerateJWT signs an HS256 token for userID. Roles default to "user".
func GenerateJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time, roles ...string) (string, error) {
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	claims := auth.Claims{
		Roles:  roles,
		Scopes: []string{"read", "trade"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "trading-auth",
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
