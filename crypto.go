package kmyth

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

// CryptoProvider is the cryptographic primitive collaborator the core
// consumes, per spec.md section 6. Every method is a pure function over
// its inputs plus (where noted) a source of randomness; none of them touch
// the TPM or any transport.
type CryptoProvider interface {
	Hash(alg AlgorithmId, data []byte) (Digest, error)
	HMAC(alg AlgorithmId, key, data []byte) (Digest, error)
	RandomBytes(n int) ([]byte, error)
	ECKeygen(curve ecdh.Curve) (*ecdh.PrivateKey, *ecdh.PublicKey, error)
	ECDHDerive(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error)
	HKDF(alg AlgorithmId, salt, ikm, info []byte, length int) ([]byte, error)
}

// StandardCrypto is the CryptoProvider backed by the Go standard library
// crypto packages and golang.org/x/crypto/hkdf. This is the production
// collaborator, and the package's tests use it too, so their nonces come
// from the system RNG.
type StandardCrypto struct{}

var _ CryptoProvider = StandardCrypto{}

func newHash(alg AlgorithmId) (func() hash.Hash, error) {
	switch alg {
	case AlgorithmSHA1:
		return sha1.New, nil
	case AlgorithmSHA256:
		return sha256.New, nil
	case AlgorithmSHA384:
		return sha512.New384, nil
	case AlgorithmSHA512:
		return sha512.New, nil
	default:
		return nil, invalidInputf("unsupported hash algorithm %s", alg)
	}
}

// Hash returns H_alg(data).
func (StandardCrypto) Hash(alg AlgorithmId, data []byte) (Digest, error) {
	newH, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	h := newH()
	h.Write(data)
	return h.Sum(nil), nil
}

// HMAC returns HMAC_alg(key, data).
func (StandardCrypto) HMAC(alg AlgorithmId, key, data []byte) (Digest, error) {
	newH, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newH, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// RandomBytes returns n cryptographically random bytes. Per spec.md design
// notes, a compromised RNG is a fatal configuration error: this never
// falls back to a weaker source, even silently.
func (StandardCrypto) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, wrapError(KindInternal, "system RNG failed", err)
	}
	return b, nil
}

// ECKeygen generates an ephemeral EC keypair on curve.
func (StandardCrypto) ECKeygen(curve ecdh.Curve) (*ecdh.PrivateKey, *ecdh.PublicKey, error) {
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, wrapError(KindInternal, "EC key generation failed", err)
	}
	return priv, priv.PublicKey(), nil
}

// ECDHDerive computes the raw ECDH shared secret between priv and peerPub.
func (StandardCrypto) ECDHDerive(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	if peerPub == nil {
		return nil, invalidInputf("peer public key is nil")
	}
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, wrapError(KindInvalidInput, "ECDH derivation failed", err)
	}
	return secret, nil
}

// HKDF runs RFC 5869 HKDF-Extract-and-Expand, returning length bytes.
func (StandardCrypto) HKDF(alg AlgorithmId, salt, ikm, info []byte, length int) ([]byte, error) {
	newH, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	r := hkdf.New(newH, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, wrapError(KindKdfConfiguration, "HKDF output shorter than requested", err)
	}
	return out, nil
}
