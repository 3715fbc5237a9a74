// Package fakesim is a small deterministic stand-in for a TPM 2.0
// resource manager, used only by tests. It is not a TPM simulator: it
// understands exactly the handful of commands the kmyth package issues
// (StartAuthSession, PolicyPCR, PolicyOR, PolicyGetDigest, FlushContext,
// Unseal) and nothing else, using its own minimal wire encoding.
package fakesim

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/SociOS-Linux/kmyth"
)

// FakeTPM implements both kmyth.Transport and kmyth.CommandBuilder over an
// in-memory model of sessions, PCR banks, and sealed objects.
type FakeTPM struct {
	crypto kmyth.CryptoProvider

	mu         sync.Mutex
	nextHandle uint32
	sessions   map[kmyth.Handle]*fakeSession
	objects    map[kmyth.Handle]*fakeObject
	pcrs       map[kmyth.AlgorithmId]map[int][]byte
}

type fakeSession struct {
	sessionType   kmyth.SessionType
	hashAlg       kmyth.AlgorithmId
	nonceTPM      kmyth.Nonce
	policyDigest  []byte // current digest, replaced by each policy command; nil means all-zero
	satisfiedPcrs kmyth.PcrSelection
}

type fakeObject struct {
	name       kmyth.Name
	authValue  kmyth.Digest
	authPolicy kmyth.Digest
	secret     []byte
}

// New constructs an empty FakeTPM. crypto is used both to play the role of
// the TPM's own RNG/hash engine and, in tests, the same provider the
// client uses — a real TPM of course runs its own independent
// implementation, but sharing one keeps the fake small.
func New(crypto kmyth.CryptoProvider) *FakeTPM {
	return &FakeTPM{
		crypto:     crypto,
		nextHandle: 0x02000000,
		sessions:   make(map[kmyth.Handle]*fakeSession),
		objects:    make(map[kmyth.Handle]*fakeObject),
		pcrs:       make(map[kmyth.AlgorithmId]map[int][]byte),
	}
}

// LoadObject registers a sealed object the fake TPM already holds loaded,
// returning the handle and Name the caller should put in an UnsealRequest.
func (f *FakeTPM) LoadObject(authValue, authPolicy kmyth.Digest, secret []byte) (kmyth.Handle, kmyth.Name) {
	f.mu.Lock()
	defer f.mu.Unlock()

	handle := kmyth.Handle(f.nextHandle)
	f.nextHandle++
	name := kmyth.Name(append([]byte{0x00, 0x0b}, mustHash(f.crypto, secret)...))
	f.objects[handle] = &fakeObject{name: name, authValue: authValue, authPolicy: authPolicy, secret: secret}
	return handle, name
}

// ExtendPCR appends measurement to the running value of a PCR, the way a
// real extend operation would, invalidating any policy digest computed
// against the PCR's prior value.
func (f *FakeTPM) ExtendPCR(alg kmyth.AlgorithmId, index int, measurement []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bank, ok := f.pcrs[alg]
	if !ok {
		bank = make(map[int][]byte)
		f.pcrs[alg] = bank
	}
	cur, ok := bank[index]
	if !ok {
		cur = make([]byte, alg.Size())
	}
	bank[index] = mustHash(f.crypto, append(append([]byte{}, cur...), measurement...))
}

// ResetPCR restores a PCR to its all-zero starting value.
func (f *FakeTPM) ResetPCR(alg kmyth.AlgorithmId, index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bank, ok := f.pcrs[alg]; ok {
		delete(bank, index)
	}
}

// pcrDigestOf computes the TPM-style composite digest of the given
// selection's current PCR values, mirroring what a real PolicyPCR call
// binds into the policy digest.
func (f *FakeTPM) pcrDigestOf(sel kmyth.PcrSelection) []byte {
	buf := []byte{}
	for _, bank := range sel {
		pcrBank := f.pcrs[bank.Hash]
		for _, idx := range bank.Indices {
			val, ok := pcrBank[idx]
			if !ok {
				val = make([]byte, bank.Hash.Size())
			}
			buf = append(buf, val...)
		}
	}
	return mustHash(f.crypto, buf)
}

func mustHash(crypto kmyth.CryptoProvider, data []byte) []byte {
	d, err := crypto.Hash(kmyth.AlgorithmSHA256, data)
	if err != nil {
		panic(err)
	}
	return d
}

var _ kmyth.Transport = (*FakeTPM)(nil)
var _ kmyth.CommandBuilder = (*FakeTPM)(nil)

// wire layout: [4B code][4B handle][1B hasAuth][auth if present][4B paramLen][params]
// auth: [4B handle][2B nonceLen][nonce][1B attrs][2B hmacLen][hmac]
func (f *FakeTPM) BuildCommand(code kmyth.CommandCode, handle kmyth.Handle, auth *kmyth.AuthArea, params []byte) ([]byte, error) {
	buf := make([]byte, 0, 16+len(params))
	buf = appendU32(buf, uint32(code))
	buf = appendU32(buf, uint32(handle))
	if auth == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = appendU32(buf, uint32(auth.Handle))
		buf = appendU16(buf, uint16(len(auth.Nonce)))
		buf = append(buf, auth.Nonce...)
		buf = append(buf, byte(auth.Attributes))
		buf = appendU16(buf, uint16(len(auth.HMAC)))
		buf = append(buf, auth.HMAC...)
	}
	buf = appendU32(buf, uint32(len(params)))
	buf = append(buf, params...)
	return buf, nil
}

func (f *FakeTPM) ParseResponse(rspBytes []byte, expectAuthArea bool) ([]byte, *kmyth.AuthArea, error) {
	if len(rspBytes) < 4 {
		return nil, nil, errTooShort
	}
	paramLen := binary.BigEndian.Uint32(rspBytes[0:4])
	off := 4
	if int(paramLen) > len(rspBytes)-off {
		return nil, nil, errTooShort
	}
	params := rspBytes[off : off+int(paramLen)]
	off += int(paramLen)

	if !expectAuthArea {
		return params, nil, nil
	}
	if len(rspBytes) < off+2 {
		return nil, nil, errTooShort
	}
	nonceLen := int(binary.BigEndian.Uint16(rspBytes[off : off+2]))
	off += 2
	nonce := kmyth.Nonce(rspBytes[off : off+nonceLen])
	off += nonceLen
	attrs := kmyth.SessionAttributes(rspBytes[off])
	off++
	hmacLen := int(binary.BigEndian.Uint16(rspBytes[off : off+2]))
	off += 2
	hmac := kmyth.Digest(rspBytes[off : off+hmacLen])

	return params, &kmyth.AuthArea{Nonce: nonce, Attributes: attrs, HMAC: hmac}, nil
}

func appendU32(buf []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.BigEndian.PutUint32(tmp, v)
	return append(buf, tmp...)
}

func appendU16(buf []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.BigEndian.PutUint16(tmp, v)
	return append(buf, tmp...)
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errTooShort = fakeErr("fakesim: buffer too short")
