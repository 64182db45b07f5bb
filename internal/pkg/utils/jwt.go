package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 上传令牌的声明, Subject 即上传者ID
type Claims struct {
	jwt.RegisteredClaims
}

// OwnerID 返回令牌所属的上传者
func (c *Claims) OwnerID() string {
	return c.Subject
}

// GenerateToken 用于生成 JWT Token
// ownerID: 上传者标识, 写入 Subject
// secretKey: 用于签名的密钥
// expiresIn: Token 的有效期
// issuer: Token 的签发者
func GenerateToken(ownerID, secretKey, issuer string, expiresIn time.Duration) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner id is required")
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   ownerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ParseToken 校验签名、有效期和签发者, 返回声明
func ParseToken(tokenString, secretKey, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secretKey), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
