package token

import "hash/fnv"

// Fingerprint derives a stable, non-reversible fingerprint of a user-agent
// string. FNV-1a is deliberately non-cryptographic: the fingerprint only
// binds a token to the issuing browser, the HMAC signature is the security
// boundary.
func Fingerprint(userAgent string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(userAgent))
	return h.Sum64()
}
