// Package jwt проверяет RS256 токены back-office для admin API.
// Сервис платежей токены не выпускает: нужен только публичный ключ издателя.
package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Ошибки проверки токена.
var (
	ErrTokenInvalid = errors.New("невалидный токен")
	ErrTokenRevoked = errors.New("токен отозван")
	ErrForbidden    = errors.New("недостаточно прав")
)

// Claims содержит данные токена back-office.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// Config содержит параметры Verifier.
type Config struct {
	PublicKeyPath string
	Issuer        string // пусто - issuer не проверяется
}

// Verifier проверяет подпись, срок действия, издателя и отзыв токена.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	blacklist *Blacklist
}

// NewVerifier загружает публичный ключ и создаёт Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	publicKey, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewVerifierWithKey(publicKey, cfg.Issuer), nil
}

// NewVerifierWithKey создаёт Verifier с уже загруженным ключом.
func NewVerifierWithKey(publicKey *rsa.PublicKey, issuer string) *Verifier {
	return &Verifier{publicKey: publicKey, issuer: issuer}
}

// SetBlacklist включает проверку отозванных токенов.
func (v *Verifier) SetBlacklist(bl *Blacklist) {
	v.blacklist = bl
}

// Verify проверяет токен и возвращает claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if v.blacklist != nil && claims.ID != "" {
		revoked, err := v.blacklist.Check(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("ошибка проверки blacklist: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// VerifyRole проверяет токен и требует указанную роль.
func (v *Verifier) VerifyRole(ctx context.Context, tokenString, role string) (*Claims, error) {
	claims, err := v.Verify(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Role != role {
		return nil, ErrForbidden
	}
	return claims, nil
}

// LoadPublicKey загружает RSA публичный ключ из PEM файла (PKIX или PKCS#1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return ParsePublicKeyPEM(data)
}

// ParsePublicKeyPEM разбирает RSA публичный ключ из PEM.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("не удалось декодировать PEM блок")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA публичным ключом")
	}
	return rsaKey, nil
}
