package kmyth

import "crypto/ecdh"

// kmythSalt is the literal HKDF salt used by deriveTwoKeys, per spec.md
// section 4.7: the 5-byte ASCII string "kmyth".
var kmythSalt = []byte("kmyth")

// EcdhKdf implements the ephemeral-keypair + HKDF two-key derivation
// described in spec.md section 4.7, used by the out-of-TPM mutual-auth
// handshake helper.
type EcdhKdf struct {
	crypto CryptoProvider
	curve  ecdh.Curve
}

// NewEcdhKdf constructs an EcdhKdf over the given curve. Both handshake
// parties must use the same curve.
func NewEcdhKdf(crypto CryptoProvider, curve ecdh.Curve) *EcdhKdf {
	return &EcdhKdf{crypto: crypto, curve: curve}
}

// EphemeralKeypair generates a fresh EC keypair on the configured curve.
func (k *EcdhKdf) EphemeralKeypair() (*ecdh.PrivateKey, *ecdh.PublicKey, error) {
	return k.crypto.ECKeygen(k.curve)
}

// SharedSecret computes the raw ECDH shared secret between localPriv and
// peerPub. A nil peerPub is rejected with InvalidInput (spec.md section
// 4.7's "InvalidPeerKey").
func (k *EcdhKdf) SharedSecret(localPriv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	if peerPub == nil {
		return nil, invalidInputf("peer public key is absent")
	}
	return k.crypto.ECDHDerive(localPriv, peerPub)
}

// DeriveTwoKeys runs HKDF-Extract-and-Expand over secret, salted with the
// literal "kmyth", with info = msg1 || msg2, producing 2*keyLen bytes
// split into two equal-length keys, per spec.md section 4.7. The
// msg1/msg2 binding ties the derived keys to the handshake transcript.
func (k *EcdhKdf) DeriveTwoKeys(secret, msg1, msg2 []byte, keyLen int, hashAlg AlgorithmId) (key1, key2 []byte, err error) {
	info := make([]byte, 0, len(msg1)+len(msg2))
	info = append(info, msg1...)
	info = append(info, msg2...)

	out, err := k.crypto.HKDF(hashAlg, kmythSalt, secret, info, 2*keyLen)
	if err != nil {
		return nil, nil, err
	}
	if len(out) < 2*keyLen {
		return nil, nil, newError(KindKdfConfiguration, "HKDF output shorter than requested key material")
	}
	return out[:keyLen], out[keyLen : 2*keyLen], nil
}

// EcdhHandshakeKeys implements the pure external entry point from spec.md
// section 6: given an already-computed shared secret and the two
// transcript messages, derive the pair of session keys directly, without
// exposing the keypair machinery.
func EcdhHandshakeKeys(crypto CryptoProvider, secret, transcript1, transcript2 []byte, keyLen int, hashAlg AlgorithmId) (key1, key2 []byte, err error) {
	k := &EcdhKdf{crypto: crypto}
	return k.DeriveTwoKeys(secret, transcript1, transcript2, keyLen, hashAlg)
}
