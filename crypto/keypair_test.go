package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeysOnce sync.Once
	testAlice    *KeyPair
	testBob      *KeyPair
)

// testKeyPairs returns two shared 2048-bit key pairs. RSA generation is slow
// enough that every test generating its own keys would dominate the run.
func testKeyPairs(t *testing.T) (*KeyPair, *KeyPair) {
	t.Helper()
	testKeysOnce.Do(func() {
		var err error
		testAlice, err = GenerateKeyPair()
		require.NoError(t, err)
		testBob, err = GenerateKeyPair()
		require.NoError(t, err)
	})
	require.NotNil(t, testAlice)
	require.NotNil(t, testBob)
	return testAlice, testBob
}

func TestGenerateKeyPair(t *testing.T) {
	alice, bob := testKeyPairs(t)

	assert.Equal(t, KeyBits, alice.Private.N.BitLen())
	assert.Equal(t, 256, alice.Size())
	assert.NotEqual(t, alice.Public.N, bob.Public.N, "two generations must differ")
}

func TestPublicKeyPEM_RoundTrip(t *testing.T) {
	alice, _ := testKeyPairs(t)

	encoded, err := alice.PublicKeyPEM()
	require.NoError(t, err)

	block, _ := pem.Decode(encoded)
	require.NotNil(t, block)
	assert.Equal(t, "PUBLIC KEY", block.Type)

	parsed, err := ParsePublicKey(encoded)
	require.NoError(t, err)
	assert.True(t, alice.Public.Equal(parsed))
}

func TestParsePublicKey_Formats(t *testing.T) {
	alice, _ := testKeyPairs(t)

	pkixDER, err := x509.MarshalPKIXPublicKey(alice.Public)
	require.NoError(t, err)
	pkcs1PEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(alice.Public),
	})

	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{"bare PKIX DER", pkixDER, false},
		{"PKCS1 PEM", pkcs1PEM, false},
		{"empty", nil, true},
		{"garbage", []byte("not a key"), true},
		{"truncated PEM", []byte("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, err := ParsePublicKey(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPublicKey)
				assert.Nil(t, pub)
				return
			}
			require.NoError(t, err)
			assert.True(t, alice.Public.Equal(pub))
		})
	}
}

func TestParsePublicKey_RejectsNonRSA(t *testing.T) {
	// An Ed25519 SubjectPublicKeyInfo (RFC 8410 example key).
	ed25519DER := []byte{
		0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00,
		0x19, 0xbf, 0x44, 0x09, 0x69, 0x84, 0xcd, 0xfe, 0x85, 0x41, 0xba, 0xc1,
		0x67, 0xdc, 0x3b, 0x96, 0xc8, 0x50, 0x86, 0xaa, 0x30, 0xb6, 0xb6, 0xcb,
		0x0c, 0x5c, 0x38, 0xad, 0x70, 0x31, 0x66, 0xe1,
	}

	pub, err := ParsePublicKey(ed25519DER)
	assert.Nil(t, pub)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	assert.Contains(t, err.Error(), "key type")
}

