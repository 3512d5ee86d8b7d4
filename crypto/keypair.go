package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeyBits is the modulus size of every locally generated key pair.
const KeyBits = 2048

const pemTypePublicKey = "PUBLIC KEY"

// ErrInvalidPublicKey indicates peer key bytes could not be parsed as RSA.
var ErrInvalidPublicKey = errors.New("invalid RSA public key")

// KeyPair is the local RSA identity of one channel. It is generated in memory
// and never persisted.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a new random 2048-bit RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(KeyBits)
}

func generateKeyPair(bits int) (*KeyPair, error) {
	logger := NewLogger("GenerateKeyPair").WithField("bits", bits)
	logger.Entry("generating RSA key pair")

	private, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		logger.WithError(err, "key_generation", "rsa.GenerateKey").Error("Failed to generate key pair")
		return nil, fmt.Errorf("generate %d-bit RSA key: %w", bits, err)
	}

	logger.Exit()
	return &KeyPair{Private: private, Public: &private.PublicKey}, nil
}

// PublicKeyPEM encodes the public half as a PKIX "PUBLIC KEY" PEM block.
// This is the exact byte string sent in the first handshake frame.
func (kp *KeyPair) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der}), nil
}

// Size returns the modulus length in bytes, which is also the length of
// every ciphertext chunk this key can decrypt.
func (kp *KeyPair) Size() int {
	return kp.Public.Size()
}

// ParsePublicKey decodes an RSA public key received from a peer. It accepts a
// PKIX or PKCS#1 PEM block, or bare PKIX DER.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidPublicKey)
	}

	der := data
	pkcs1 := false
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
		pkcs1 = block.Type == "RSA PUBLIC KEY"
	}

	if pkcs1 {
		pub, err := x509.ParsePKCS1PublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return pub, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key type %T", ErrInvalidPublicKey, parsed)
	}
	return pub, nil
}
