package fakesim

import (
	"context"
	"encoding/binary"

	"github.com/SociOS-Linux/kmyth"
)

// rcBadAuth mirrors TPM_RC_BAD_AUTH-class rejection (spec.md section 8
// scenario 2 references 0x98E for a wrong-authBytes unseal attempt).
const rcBadAuth kmyth.ResponseCode = 0x098e

// rcPolicyFail mirrors a policy-session command the TPM rejects because
// the accumulated policy digest doesn't match the object's authPolicy.
const rcPolicyFail kmyth.ResponseCode = 0x09d2

// rcValue mirrors TPM_RC_VALUE, returned by a real TPM when PolicyOR's
// branch list doesn't match the order used to compute the bound digest.
const rcValue kmyth.ResponseCode = 0x0984

func (f *FakeTPM) Send(ctx context.Context, cmdBytes []byte) ([]byte, kmyth.ResponseCode, error) {
	if len(cmdBytes) < 9 {
		return nil, 0, errTooShort
	}
	code := kmyth.CommandCode(binary.BigEndian.Uint32(cmdBytes[0:4]))
	handle := kmyth.Handle(binary.BigEndian.Uint32(cmdBytes[4:8]))
	hasAuth := cmdBytes[8] == 1
	off := 9

	var auth *kmyth.AuthArea
	if hasAuth {
		authHandle := kmyth.Handle(binary.BigEndian.Uint32(cmdBytes[off : off+4]))
		off += 4
		nonceLen := int(binary.BigEndian.Uint16(cmdBytes[off : off+2]))
		off += 2
		nonce := kmyth.Nonce(cmdBytes[off : off+nonceLen])
		off += nonceLen
		attrs := kmyth.SessionAttributes(cmdBytes[off])
		off++
		hmacLen := int(binary.BigEndian.Uint16(cmdBytes[off : off+2]))
		off += 2
		hmac := kmyth.Digest(cmdBytes[off : off+hmacLen])
		off += hmacLen
		auth = &kmyth.AuthArea{Handle: authHandle, Nonce: nonce, Attributes: attrs, HMAC: hmac}
	}

	paramLen := binary.BigEndian.Uint32(cmdBytes[off : off+4])
	off += 4
	params := cmdBytes[off : off+int(paramLen)]

	f.mu.Lock()
	defer f.mu.Unlock()

	switch code {
	case kmyth.CommandStartAuthSession:
		return f.handleStartAuthSession(params)
	case kmyth.CommandPolicyPCR:
		return f.handlePolicyPCR(handle, params)
	case kmyth.CommandPolicyOR:
		return f.handlePolicyOR(handle, params)
	case kmyth.CommandPolicyGetDigest:
		return f.handlePolicyGetDigest(handle)
	case kmyth.CommandFlushContext:
		delete(f.sessions, handle)
		return buildResponse(nil, nil), kmyth.Success, nil
	case kmyth.CommandUnseal:
		return f.handleUnseal(handle, auth)
	default:
		return nil, 0, fakeErr("fakesim: unknown command code")
	}
}

func (f *FakeTPM) handleStartAuthSession(params []byte) ([]byte, kmyth.ResponseCode, error) {
	if len(params) < 4+4+1+2+2 {
		return nil, 0, errTooShort
	}
	off := 8 // skip tpmKey, bind — unused by this fake, always NULL in practice
	sessionType := kmyth.SessionType(params[off])
	off++
	authHash := kmyth.AlgorithmId(binary.BigEndian.Uint16(params[off : off+2]))
	off += 2
	nonceCallerLen := int(binary.BigEndian.Uint16(params[off : off+2]))
	off += 2
	_ = params[off : off+nonceCallerLen]

	handle := kmyth.Handle(f.nextHandle)
	f.nextHandle++

	nonceTPM, err := f.crypto.RandomBytes(authHash.Size())
	if err != nil {
		return nil, 0, err
	}

	f.sessions[handle] = &fakeSession{sessionType: sessionType, hashAlg: authHash, nonceTPM: nonceTPM}

	respParams := appendU32(nil, uint32(handle))
	respParams = append(respParams, nonceTPM...)
	return buildResponse(respParams, nil), kmyth.Success, nil
}

func (f *FakeTPM) handlePolicyPCR(handle kmyth.Handle, params []byte) ([]byte, kmyth.ResponseCode, error) {
	sess, ok := f.sessions[handle]
	if !ok {
		return nil, 0, fakeErr("fakesim: unknown session handle")
	}
	sel, err := decodePcrSelection(params)
	if err != nil {
		return nil, 0, err
	}
	sess.satisfiedPcrs = sel
	sess.policyDigest = f.pcrDigestOf(sel)
	return buildResponse(nil, nil), kmyth.Success, nil
}

func (f *FakeTPM) handlePolicyOR(handle kmyth.Handle, params []byte) ([]byte, kmyth.ResponseCode, error) {
	sess, ok := f.sessions[handle]
	if !ok {
		return nil, 0, fakeErr("fakesim: unknown session handle")
	}
	size := sess.hashAlg.Size()
	if len(params) != 2*size {
		return nil, rcValue, nil
	}
	branch1, branch2 := params[:size], params[size:]

	combined := mustHash(f.crypto, append(appendCommandCode(kmyth.CommandPolicyOR), append(append([]byte{}, branch1...), branch2...)...))
	if hashesEqual(sess.policyDigest, branch1) || hashesEqual(sess.policyDigest, branch2) {
		sess.policyDigest = combined
		return buildResponse(nil, nil), kmyth.Success, nil
	}
	return nil, rcPolicyFail, nil
}

func appendCommandCode(code kmyth.CommandCode) []byte {
	return appendU32(nil, uint32(code))
}

func (f *FakeTPM) handlePolicyGetDigest(handle kmyth.Handle) ([]byte, kmyth.ResponseCode, error) {
	sess, ok := f.sessions[handle]
	if !ok {
		return nil, 0, fakeErr("fakesim: unknown session handle")
	}
	digest := sess.policyDigest
	if digest == nil {
		digest = make([]byte, sess.hashAlg.Size())
	}
	return buildResponse(digest, nil), kmyth.Success, nil
}

func (f *FakeTPM) handleUnseal(objectHandle kmyth.Handle, auth *kmyth.AuthArea) ([]byte, kmyth.ResponseCode, error) {
	obj, ok := f.objects[objectHandle]
	if !ok {
		return nil, 0, fakeErr("fakesim: unknown object handle")
	}
	if auth == nil {
		return nil, 0, fakeErr("fakesim: Unseal requires an auth area")
	}
	sess, ok := f.sessions[auth.Handle]
	if !ok {
		return nil, 0, fakeErr("fakesim: unknown session handle in auth area")
	}

	if sess.sessionType == kmyth.SessionTypePolicy {
		digest := sess.policyDigest
		if digest == nil {
			digest = make([]byte, sess.hashAlg.Size())
		}
		if !hashesEqual(digest, obj.authPolicy) {
			return nil, rcPolicyFail, nil
		}
	}

	cp := mustHash(f.crypto, append(appendCommandCode(kmyth.CommandUnseal), obj.name...))
	cmdRoles := []byte{}
	cmdRoles = append(cmdRoles, auth.Nonce...)
	cmdRoles = append(cmdRoles, sess.nonceTPM...)
	expectedCmdHMAC := authHMACSim(f.crypto, sess.hashAlg, obj.authValue, cp, cmdRoles, auth.Attributes)
	if !hashesEqual(expectedCmdHMAC, auth.HMAC) {
		return nil, rcBadAuth, nil
	}

	newNonceTPM, err := f.crypto.RandomBytes(sess.hashAlg.Size())
	if err != nil {
		return nil, 0, err
	}
	rspAttrs := kmyth.SessionAttributes(0)

	rp := mustHashRP(f.crypto, kmyth.Success, kmyth.CommandUnseal, obj.secret)
	rspRoles := append(append([]byte{}, newNonceTPM...), auth.Nonce...)
	rspHMAC := authHMACSim(f.crypto, sess.hashAlg, obj.authValue, rp, rspRoles, rspAttrs)

	sess.nonceTPM = newNonceTPM

	respAuth := &kmyth.AuthArea{Nonce: newNonceTPM, Attributes: rspAttrs, HMAC: rspHMAC}
	return buildResponse(obj.secret, respAuth), kmyth.Success, nil
}

// authHMACSim replicates kmyth's unexported authHMAC formula: key =
// sessionKey || authValue (sessionKey is always empty for the handshakes
// this fake drives), message = pHash || nonceNewer || nonceOlder || attrs.
func authHMACSim(crypto kmyth.CryptoProvider, alg kmyth.AlgorithmId, authValue kmyth.Digest, pHash, nonceRoles []byte, attrs kmyth.SessionAttributes) kmyth.Digest {
	msg := append(append([]byte{}, pHash...), nonceRoles...)
	msg = append(msg, byte(attrs))
	mac, err := crypto.HMAC(alg, authValue, msg)
	if err != nil {
		panic(err)
	}
	return mac
}

func mustHashRP(crypto kmyth.CryptoProvider, rc kmyth.ResponseCode, code kmyth.CommandCode, params []byte) []byte {
	buf := appendU32(nil, uint32(rc))
	buf = appendU32(buf, uint32(code))
	buf = append(buf, params...)
	return mustHash(crypto, buf)
}

func hashesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func decodePcrSelection(params []byte) (kmyth.PcrSelection, error) {
	if len(params) < 4 {
		return nil, errTooShort
	}
	numBanks := binary.BigEndian.Uint32(params[0:4])
	off := 4
	sel := make(kmyth.PcrSelection, 0, numBanks)
	for i := uint32(0); i < numBanks; i++ {
		if off+4 > len(params) {
			return nil, errTooShort
		}
		hashAlg := kmyth.AlgorithmId(binary.BigEndian.Uint16(params[off : off+2]))
		off += 2
		numIndices := int(binary.BigEndian.Uint16(params[off : off+2]))
		off += 2
		indices := make([]int, 0, numIndices)
		for j := 0; j < numIndices; j++ {
			if off+4 > len(params) {
				return nil, errTooShort
			}
			indices = append(indices, int(binary.BigEndian.Uint32(params[off:off+4])))
			off += 4
		}
		sel = append(sel, kmyth.PcrBank{Hash: hashAlg, Indices: indices})
	}
	return sel, nil
}

// buildResponse constructs a response buffer in the layout
// kmyth.CommandBuilder.ParseResponse expects: [4B paramLen][params][auth?].
func buildResponse(params []byte, auth *kmyth.AuthArea) []byte {
	buf := appendU32(nil, uint32(len(params)))
	buf = append(buf, params...)
	if auth != nil {
		buf = appendU16(buf, uint16(len(auth.Nonce)))
		buf = append(buf, auth.Nonce...)
		buf = append(buf, byte(auth.Attributes))
		buf = appendU16(buf, uint16(len(auth.HMAC)))
		buf = append(buf, auth.HMAC...)
	}
	return buf
}
