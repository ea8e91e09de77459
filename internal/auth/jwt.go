package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Области действия операторских токенов.
const (
	ScopeWrite = "terrain:write" // пакеты изменений, намерения
	ScopeAdmin = "terrain:admin" // выгрузка регионов
)

const issuer = "terraind"

var (
	// ErrInvalidToken: токен не прошёл проверку.
	ErrInvalidToken = errors.New("недействительный токен")
	// ErrWeakSecret: секрет короче 32 байт.
	ErrWeakSecret = errors.New("secret key must be at least 32 bytes")
)

// Claims represents JWT claims
type Claims struct {
	Operator string   `json:"operator"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope проверяет наличие области действия. ScopeAdmin включает все остальные.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope) || slices.Contains(c.Scopes, ScopeAdmin)
}

// TokenIssuer выпускает и проверяет операторские токены (HS256).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer создаёт эмитент. Пустой secret: случайный ключ на время жизни процесса.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("генерация секрета: %w", err)
		}
	} else if len(key) < 32 {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: key, ttl: ttl, now: time.Now}, nil
}

// Generate creates a signed token for the operator
func (i *TokenIssuer) Generate(operator string, scopes ...string) (string, error) {
	now := i.now()
	claims := &Claims{
		Operator: operator,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   operator,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate checks token validity and returns its claims
func (i *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Operator == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
