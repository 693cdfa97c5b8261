package export

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/spectrumauctions/sats/core"
)

// SigningKey holds the P-256 key pair used to sign results.
type SigningKey struct {
	privateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// NewSigningKey generates a fresh key pair.
func NewSigningKey() (*SigningKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &SigningKey{privateKey: key, PublicKey: &key.PublicKey}, nil
}

// ParseSigningKeyPEM reads an EC or PKCS#8 private key.
func ParseSigningKeyPEM(data []byte) (*SigningKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signing key is not PEM encoded")
	}
	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		key = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		ec, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("signing key is not ECDSA")
		}
		key = ec
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("signing key is not on P-256")
	}
	return &SigningKey{privateKey: key, PublicKey: &key.PublicKey}, nil
}

// PrivateKeyPEM encodes the private key as an EC PRIVATE KEY block.
func (k *SigningKey) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(k.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyPEM returns the public key in PEM format.
func (k *SigningKey) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Sign signs res with this key.
func (k *SigningKey) Sign(res *core.MechanismResult) ([]byte, error) {
	return SignResult(res, k.privateKey)
}

// ParsePublicKeyPEM reads a PKIX ECDSA public key.
func ParsePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("public key is not a PEM PUBLIC KEY block")
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ec, ok := k.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not ECDSA")
	}
	return ec, nil
}
