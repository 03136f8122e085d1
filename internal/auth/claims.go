package auth

import "github.com/golang-jwt/jwt/v5"

// tokenUse keeps access and refresh tokens apart; both are signed with the same key.
type tokenUse string

const (
	useAccess  tokenUse = "access"
	useRefresh tokenUse = "refresh"
)

// operatorClaims is the token body. The operator id travels as the registered subject, and the
// role rides on refresh tokens too so a refresh can re-issue the same grant.
type operatorClaims struct {
	jwt.RegisteredClaims

	Role string   `json:"role"`
	Use  tokenUse `json:"use"`
}
