// Package crypto implements the asymmetric primitives of the remotelink
// transport.
//
// Each channel owns one in-memory RSA-2048 [KeyPair]. A [Cipher] binds that
// key pair to exactly one peer public key and performs chunked RSA-OAEP
// (SHA-1) encryption:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c := crypto.NewCipher(keys)
//	if err := c.SetPeerPublicKey(peerPEM); err != nil {
//	    log.Fatal(err)
//	}
//	ciphertext, _ := c.Encrypt(plaintext) // 214-byte blocks in, 256-byte blocks out
//	plaintext, _ = c.Decrypt(ciphertext)  // with the local private key
//
// There is no session key, no AEAD mode, and no streaming: every block is an
// independent RSA operation. Integrity and freshness are layered on top by
// the envelope package.
//
// [Fingerprint] renders a public key as an OpenSSH SHA256 fingerprint for
// logging and optional peer pinning.
package crypto
