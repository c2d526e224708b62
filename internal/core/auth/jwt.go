package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenType    = errors.New("invalid token type")
)

// Claims sub 为用户 id；access token 额外带 email/role
type Claims struct {
	Type  string `json:"type"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTer 单一共享密钥，HS256
type JWTer struct {
	Secret     []byte
	Issuer     string
	TTL        time.Duration // access token
	RefreshTTL time.Duration

	now func() time.Time
}

func (j *JWTer) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}

func (j *JWTer) SignAccess(subject, email, role string) (string, error) {
	ttl := j.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return j.sign(Claims{Type: TypeAccess, Email: email, Role: role}, subject, ttl)
}

func (j *JWTer) SignRefresh(subject string) (string, error) {
	ttl := j.RefreshTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return j.sign(Claims{Type: TypeRefresh}, subject, ttl)
}

func (j *JWTer) sign(c Claims, subject string, ttl time.Duration) (string, error) {
	now := j.clock()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(), // 同一秒内签出的 token 也不同
		Subject:   subject,
		Issuer:    j.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.Secret)
}

// VerifyRefresh 签名、过期、type 任何一项不对都报错
func (j *JWTer) VerifyRefresh(tokenStr string) (string, error) {
	c, err := j.parse(tokenStr, TypeRefresh)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

func (j *JWTer) VerifyAccess(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, TypeAccess)
}

func (j *JWTer) parse(tokenStr, wantType string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(60 * time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.clock),
	}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected alg %v", token.Header["alg"])
		}
		return j.Secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}
	if c.Type != wantType {
		return nil, ErrTokenType
	}
	if c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}
