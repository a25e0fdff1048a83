package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"paletteledger/internal/domain"
)

// TokenService define o contrato para manipulação de JWTs.
type TokenService interface {
	GenerateToken(identity domain.Identity) (string, error)
	ValidateToken(tokenString string) (*CustomClaims, error)
}

// CustomClaims são as informações do chamador gravadas pelo serviço de autenticação.
type CustomClaims struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Identity converte as claims na identidade usada pelos handlers.
func (c CustomClaims) Identity() domain.Identity {
	return domain.Identity{
		UserID:    c.UserID,
		CompanyID: c.CompanyID,
		Role:      domain.UserRole(c.Role),
	}
}

// Service implementa a interface TokenService
type Service struct {
	secretKey []byte
	issuer    string
	expiry    time.Duration
}

// NewService cria uma nova instância do serviço Token. Um issuer vazio desativa a checagem do "iss".
func NewService(secretKey, issuer string, expiry time.Duration) *Service {
	return &Service{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		expiry:    expiry,
	}
}

// GenerateToken cria um JWT assinado para a identidade.
// Em produção os tokens vêm do serviço de autenticação; aqui serve às ferramentas e aos testes.
func (s *Service) GenerateToken(identity domain.Identity) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID:    identity.UserID,
		CompanyID: identity.CompanyID,
		Role:      string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   identity.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("falha ao assinar o token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken valida o token string e retorna as claims se for válido.
func (s *Service) ValidateToken(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verifica se o método de assinatura é o esperado (HS256)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("método de assinatura inesperado: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, opts...)

	if err != nil {
		return nil, fmt.Errorf("token inválido: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token não é válido")
	}

	if claims.UserID == "" || claims.Role == "" {
		return nil, errors.New("token sem user_id ou role")
	}

	return claims, nil
}
