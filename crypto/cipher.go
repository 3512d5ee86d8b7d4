package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/remotelink/limits"
)

var (
	// ErrNoPeerKey indicates Encrypt was called before a peer key was set
	ErrNoPeerKey = errors.New("no peer public key set")

	// ErrPeerKeyAlreadySet indicates a second attempt to bind a peer key
	ErrPeerKeyAlreadySet = errors.New("peer public key already set")

	// ErrWeakPeerKey indicates the peer key is below limits.MinPeerKeyBits
	ErrWeakPeerKey = errors.New("peer public key too small")

	// ErrChunkMisaligned indicates ciphertext is not a whole number of RSA blocks
	ErrChunkMisaligned = errors.New("ciphertext not aligned to RSA block size")

	// ErrDecryptionFailed indicates an RSA block failed OAEP decryption
	ErrDecryptionFailed = errors.New("decryption failed")
)

// oaepOverhead is the OAEP padding cost for SHA-1: 2*hLen + 2.
const oaepOverhead = 2*sha1.Size + 2

// Cipher performs chunked RSA-OAEP encryption toward one peer and decryption
// with the local private key.
//
// Every chunk is an independent RSA operation. For a 2048-bit key that is 214
// plaintext bytes in and 256 ciphertext bytes out per chunk, so cost grows
// linearly with payload size.
//
// The local key pair may be shared by several Ciphers (one per handshake
// attempt). The peer key is bound once and never changes afterwards.
type Cipher struct {
	keys *KeyPair

	mu   sync.RWMutex
	peer *rsa.PublicKey
}

// NewCipher creates a cipher that decrypts with kp and has no peer yet.
func NewCipher(kp *KeyPair) *Cipher {
	return &Cipher{keys: kp}
}

// PublicKeyPEM returns the local public key in its wire encoding.
func (c *Cipher) PublicKeyPEM() ([]byte, error) {
	return c.keys.PublicKeyPEM()
}

// SetPeerPublicKey parses and binds the peer key. It succeeds at most once.
func (c *Cipher) SetPeerPublicKey(data []byte) error {
	pub, err := ParsePublicKey(data)
	if err != nil {
		return err
	}
	return c.SetPeerKey(pub)
}

// SetPeerKey binds an already parsed peer key. It succeeds at most once.
func (c *Cipher) SetPeerKey(pub *rsa.PublicKey) error {
	if pub == nil {
		return fmt.Errorf("%w: nil key", ErrInvalidPublicKey)
	}
	if bits := pub.N.BitLen(); bits < limits.MinPeerKeyBits {
		return fmt.Errorf("%w: %d bits, need %d", ErrWeakPeerKey, bits, limits.MinPeerKeyBits)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer != nil {
		return ErrPeerKeyAlreadySet
	}
	c.peer = pub

	NewLogger("SetPeerKey").WithField("peer_key_bits", pub.N.BitLen()).Debug("Peer public key bound")
	return nil
}

// PeerKey returns the bound peer key, or nil before the handshake.
func (c *Cipher) PeerKey() *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peer
}

// HasPeerKey reports whether Encrypt is usable.
func (c *Cipher) HasPeerKey() bool {
	return c.PeerKey() != nil
}

// PlaintextChunkSize is the largest plaintext block pub can encrypt with OAEP/SHA-1.
func PlaintextChunkSize(pub *rsa.PublicKey) int {
	return pub.Size() - oaepOverhead
}

// Encrypt splits plaintext into PlaintextChunkSize blocks and encrypts each
// under the peer key. Empty input gives empty output.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	peer := c.PeerKey()
	if peer == nil {
		return nil, ErrNoPeerKey
	}

	chunk := PlaintextChunkSize(peer)
	blocks := (len(plaintext) + chunk - 1) / chunk
	out := make([]byte, 0, blocks*peer.Size())

	for off := 0; off < len(plaintext); off += chunk {
		end := off + chunk
		if end > len(plaintext) {
			end = len(plaintext)
		}

		block, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, peer, plaintext[off:end], nil)
		if err != nil {
			return nil, fmt.Errorf("encrypt chunk at offset %d: %w", off, err)
		}
		out = append(out, block...)
	}

	return out, nil
}

// Decrypt splits ciphertext into blocks of the local key size and decrypts
// each with the private key.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	size := c.keys.Size()
	if len(ciphertext)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrChunkMisaligned, len(ciphertext), size)
	}

	out := make([]byte, 0, len(ciphertext)/size*PlaintextChunkSize(c.keys.Public))
	for off := 0; off < len(ciphertext); off += size {
		block, err := rsa.DecryptOAEP(sha1.New(), nil, c.keys.Private, ciphertext[off:off+size], nil)
		if err != nil {
			NewLogger("Decrypt").
				WithFields(SecureFieldHash(ciphertext[off:off+size], "block")).
				WithError(err, "decryption", "rsa.DecryptOAEP").
				Debug("RSA block rejected")
			ZeroBytes(out)
			return nil, fmt.Errorf("%w: block %d", ErrDecryptionFailed, off/size)
		}
		out = append(out, block...)
	}

	return out, nil
}
