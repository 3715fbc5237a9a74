package kmyth

// DeriveAuthValue computes the authorization digest (authVal) for raw auth
// bytes, per spec.md section 4.1. If authBytes is empty or absent, the
// result is the all-zero digest of hashAlg's output length; otherwise it
// is H(authBytes).
//
// Callers are responsible for zeroing authBytes after this call returns;
// this function makes no internal copy of it beyond the hash state it
// feeds.
func DeriveAuthValue(crypto CryptoProvider, authBytes []byte, hashAlg AlgorithmId) (Digest, error) {
	if !hashAlg.Supported() {
		return nil, invalidInputf("unsupported hash algorithm %s", hashAlg)
	}
	if len(authBytes) == 0 {
		return make(Digest, hashAlg.Size()), nil
	}
	return crypto.Hash(hashAlg, authBytes)
}
