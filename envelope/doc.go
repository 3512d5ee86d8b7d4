// Package envelope frames application messages with integrity and freshness
// metadata before they are encrypted.
//
// Wire layout (all integers big-endian):
//
//	+--------+----------------+-----------------+------------------+
//	| type   | timestamp (ms) | payload ...     | SHA-256 checksum |
//	| 4 B    | 8 B            | variable        | 32 B             |
//	+--------+----------------+-----------------+------------------+
//
// The checksum covers every byte before it. A receiver must call Validate (or
// Open, which validates first) before trusting Unpack's output:
//
//	v := envelope.NewValidator()
//	env, result := v.Open(data)
//	if result != envelope.Valid {
//	    return result.Err() // ErrTooShort, ErrReplay or ErrIntegrity
//	}
//	handle(env.Type, env.Payload)
//
// The checksum is an unkeyed hash. It detects corruption and tampering with
// the plaintext only because the whole envelope is RSA-encrypted in transit.
// The timestamp window rejects stale replays, but a captured message can still
// be replayed inside the window.
package envelope
