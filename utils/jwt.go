package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 員工角色
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

var JWTSecret []byte

// ErrInvalidRole 角色不是 admin 或 agent
var ErrInvalidRole = errors.New("role must be admin or agent")

// ValidRole 是否為可登入的員工角色
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleAgent
}

// InitJWTSecret 設定簽章用的金鑰
func InitJWTSecret(secret string) error {
	if secret == "" {
		return errors.New("JWT_SECRET is empty")
	}
	JWTSecret = []byte(secret)
	return nil
}

// GenerateToken 簽發員工 token
func GenerateToken(employeeID int, role string, ttl time.Duration) (string, error) {
	if len(JWTSecret) == 0 {
		return "", errors.New("JWT secret not initialized")
	}
	if !ValidRole(role) {
		return "", ErrInvalidRole
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"employee_id": employeeID,
		"role":        role,
		"iat":         now.Unix(),
		"exp":         now.Add(ttl).Unix(),
	})
	return token.SignedString(JWTSecret)
}
