package kmyth

import "crypto/subtle"

// nonceRoles captures which nonce plays nonceNewer/nonceOlder for a given
// authHMAC computation. Per spec.md section 4.4, the roles differ for the
// command being sent versus the response being verified.
type nonceRoles struct {
	newer Nonce
	older Nonce
}

// commandNonceRoles builds the nonce roles for a command authHMAC: the
// caller's current nonceNewer, paired with the TPM's last nonce.
func commandNonceRoles(book *NonceBook, nonceTPM Nonce) nonceRoles {
	return nonceRoles{newer: book.Newer(), older: nonceTPM}
}

// responseNonceRoles builds the nonce roles for a response authHMAC: the
// nonce just received from the TPM, paired with the nonce the caller sent
// with the command.
func responseNonceRoles(nonceTPMFromResponse Nonce, nonceSentWithCommand Nonce) nonceRoles {
	return nonceRoles{newer: nonceTPMFromResponse, older: nonceSentWithCommand}
}

// authHMAC computes the session HMAC per spec.md section 4.4:
//
//	key = sessionKey || authValue
//	message = pHash || nonceNewer || nonceOlder || sessionAttributes
//	result = HMAC_authHash(key, message)
//
// The same routine serves both the command and response halves of an
// exchange; only the nonce roles passed in differ.
func authHMAC(crypto CryptoProvider, hashAlg AlgorithmId, sessionKey, authValue []byte, pHash Digest, roles nonceRoles, attrs SessionAttributes) (Digest, error) {
	key := make([]byte, 0, len(sessionKey)+len(authValue))
	key = append(key, sessionKey...)
	key = append(key, authValue...)

	msg := make([]byte, 0, len(pHash)+len(roles.newer)+len(roles.older)+1)
	msg = append(msg, pHash...)
	msg = append(msg, roles.newer...)
	msg = append(msg, roles.older...)
	msg = append(msg, byte(attrs))

	return crypto.HMAC(hashAlg, key, msg)
}

// authHMACEqual compares two authHMAC digests in constant time, per
// spec.md section 4.6 step 8 ("Recompute expected responseHMAC and compare
// in constant time").
func authHMACEqual(a, b Digest) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
