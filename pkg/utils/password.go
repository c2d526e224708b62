package utils

import (
	"crypto/sha512"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost 固定工作因子，故意慢
const DefaultCost = 12

// bcrypt 只接受前 72 字节
const bcryptMaxInput = 72

// Hasher 密码与 refresh token 落库前共用同一个哈希
type Hasher struct {
	Cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{Cost: cost}
}

func (h *Hasher) Hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(bcryptInput(secret), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *Hasher) Verify(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), bcryptInput(secret)) == nil
}

// 超长输入（JWT 一定超长）先 SHA-512，保证整串参与比较
func bcryptInput(secret string) []byte {
	if len(secret) <= bcryptMaxInput {
		return []byte(secret)
	}
	sum := sha512.Sum512([]byte(secret))
	return sum[:]
}
