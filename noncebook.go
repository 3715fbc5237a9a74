package kmyth

// NonceBook holds the (newer, older) nonce pair for a session and rolls
// them on each exchange, per spec.md section 4.2.
type NonceBook struct {
	hashAlg AlgorithmId
	newer   Nonce
	older   Nonce
}

// NewNonceBook starts a NonceBook with the given authHash output length
// and the session's first caller nonce.
func NewNonceBook(hashAlg AlgorithmId, firstNewerNonce Nonce) (*NonceBook, error) {
	if !hashAlg.Supported() {
		return nil, invalidInputf("unsupported hash algorithm %s", hashAlg)
	}
	if len(firstNewerNonce) != hashAlg.Size() {
		return nil, invalidInputf("initial nonce has length %d, expected %d", len(firstNewerNonce), hashAlg.Size())
	}
	return &NonceBook{hashAlg: hashAlg, newer: firstNewerNonce, older: Nonce{}}, nil
}

// Newer returns the caller's current nonceNewer.
func (n *NonceBook) Newer() Nonce { return n.newer }

// Older returns the caller's current nonceOlder.
func (n *NonceBook) Older() Nonce { return n.older }

// Roll advances the book: nonceOlder <- nonceNewer, nonceNewer <- incoming.
// Per spec.md section 4.2, incoming must equal the session's authHash
// output length, and so must the current nonceNewer being shifted down
// (always true once Roll has been called at least once after init).
func (n *NonceBook) Roll(incomingTpmNonce Nonce) error {
	if len(incomingTpmNonce) != n.hashAlg.Size() {
		return invalidInputf("incoming nonce has length %d, expected %d (protocol violation)", len(incomingTpmNonce), n.hashAlg.Size())
	}
	n.older = n.newer
	n.newer = incomingTpmNonce
	return nil
}
