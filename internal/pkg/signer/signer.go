package signer

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Signer produz a assinatura de evidência dos cheques e os tokens de QR code.
type Signer interface {
	Sign(payload []byte) string
	Verify(payload []byte, signature string) bool
	NewQRCode() string
}

// Blake2bSigner assina com BLAKE2b-256 em modo MAC (chave secreta).
type Blake2bSigner struct {
	key      []byte
	qrPrefix string
}

// NewBlake2bSigner cria o assinador. Chaves maiores que 64 bytes são reduzidas
// com BLAKE2b-512, o tamanho máximo de chave aceito pelo algoritmo.
func NewBlake2bSigner(secret, qrPrefix string) (*Blake2bSigner, error) {
	if secret == "" {
		return nil, errors.New("chave de assinatura vazia")
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	if _, err := blake2b.New256(key); err != nil {
		return nil, fmt.Errorf("chave de assinatura inválida: %w", err)
	}
	return &Blake2bSigner{key: key, qrPrefix: strings.ToUpper(qrPrefix)}, nil
}

// Sign devolve o MAC em hexadecimal.
func (s *Blake2bSigner) Sign(payload []byte) string {
	h, _ := blake2b.New256(s.key)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify compara em tempo constante.
func (s *Blake2bSigner) Verify(payload []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h, _ := blake2b.New256(s.key)
	h.Write(payload)
	return subtle.ConstantTimeCompare(h.Sum(nil), expected) == 1
}

// NewQRCode gera um token opaco e único para o QR code do cheque.
func (s *Blake2bSigner) NewQRCode() string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if s.qrPrefix == "" {
		return token
	}
	return s.qrPrefix + "-" + token
}
