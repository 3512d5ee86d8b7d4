package crypto

import (
	"crypto/rsa"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// Fingerprint returns the OpenSSH-style SHA256 fingerprint of pub, e.g.
// "SHA256:nThbg6kXUpJWGl7E1IGOCspRomTxdCARLviKw6E5SY8". Operators can compare
// it out of band, and Config.PeerFingerprint pins it.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("%w: nil key", ErrInvalidPublicKey)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return ssh.FingerprintSHA256(sshPub), nil
}
