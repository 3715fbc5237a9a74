package kmyth

// Zeroizer is the secure-erase collaborator the core consumes for every
// buffer that ever held authValue, sessionKey, a shared secret, or a
// derived key, per spec.md section 1 ("a secure-erase utility for
// sensitive buffers") and section 9 ("scoped acquisition with guaranteed
// zero-on-release").
type Zeroizer interface {
	// Zero overwrites b in place with zeroes. Implementations must not
	// allocate a new backing array; b is zeroed at the address the caller
	// already holds.
	Zero(b []byte)
}

// StandardZeroizer is the default Zeroizer: a plain overwrite loop. It is
// deliberately not "clever" about compiler dead-store elimination beyond
// what a volatile-style loop buys; callers that need hardened wiping on a
// specific platform should inject their own Zeroizer.
type StandardZeroizer struct{}

var _ Zeroizer = StandardZeroizer{}

// Zero implements Zeroizer.
func (StandardZeroizer) Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// zeroAll is a small convenience for closing out a batch of sensitive
// buffers in one call, used by Session.Close and the Unseal cleanup path.
func zeroAll(z Zeroizer, bufs ...[]byte) {
	for _, b := range bufs {
		z.Zero(b)
	}
}
