// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package kmyth

import (
	"fmt"
	"sort"
)

// AlgorithmId identifies a TPM 2.0 hash or symmetric algorithm. Only the
// hash algorithms relevant to the authorization-session core are given
// names here; everything else that flows through the core (object types,
// command parameters) is an opaque, already-serialized byte slice.
type AlgorithmId uint16

const (
	AlgorithmSHA1   AlgorithmId = 0x0004
	AlgorithmSHA256 AlgorithmId = 0x000b
	AlgorithmSHA384 AlgorithmId = 0x000c
	AlgorithmSHA512 AlgorithmId = 0x000d
	AlgorithmNull   AlgorithmId = 0x0010
)

var digestSizes = map[AlgorithmId]int{
	AlgorithmSHA1:   20,
	AlgorithmSHA256: 32,
	AlgorithmSHA384: 48,
	AlgorithmSHA512: 64,
}

// Size returns the output length in bytes of the algorithm's digest, or 0
// if the algorithm is not a known hash algorithm.
func (a AlgorithmId) Size() int {
	return digestSizes[a]
}

// Supported reports whether a is a hash algorithm this core knows how to
// drive.
func (a AlgorithmId) Supported() bool {
	_, ok := digestSizes[a]
	return ok
}

func (a AlgorithmId) String() string {
	switch a {
	case AlgorithmSHA1:
		return "sha1"
	case AlgorithmSHA256:
		return "sha256"
	case AlgorithmSHA384:
		return "sha384"
	case AlgorithmSHA512:
		return "sha512"
	case AlgorithmNull:
		return "null"
	default:
		return fmt.Sprintf("AlgorithmId(0x%04x)", uint16(a))
	}
}

// Handle is an opaque TPM-assigned resource identifier.
type Handle uint32

// HandleNull is the TPM_RH_NULL sentinel used for an absent tpmKey or bind
// entity.
const HandleNull Handle = 0x40000007

// CommandCode identifies a TPM 2.0 command.
type CommandCode uint32

// Command codes the core itself issues or reasons about. The wider TPM 2.0
// command set is out of scope: paramsIn/paramsOut for every other command
// are opaque, pre-serialized byte slices supplied by the caller.
const (
	CommandPolicyOR        CommandCode = 0x00000171
	CommandPolicyPCR       CommandCode = 0x0000017f
	CommandPolicyGetDigest CommandCode = 0x00000189
	CommandStartAuthSession CommandCode = 0x00000176
	CommandUnseal           CommandCode = 0x0000015e
	CommandFlushContext     CommandCode = 0x00000165
)

// ResponseCode is the raw 32-bit response code returned by the TPM.
type ResponseCode uint32

// Success is the TPM_RC_SUCCESS response code.
const Success ResponseCode = 0x00000000

// Digest is a fixed-length byte string tagged, by context, with the hash
// algorithm that produced it. A Digest never carries its algorithm ID
// inline; callers track the algorithm via the owning Session or call.
type Digest []byte

// Nonce is a byte string whose length must equal the session's authHash
// output length.
type Nonce []byte

// Name is the TPM-canonical object name: an algorithm-tagged hash of the
// object's public area. Opaque to this core beyond its use in cpHash.
type Name []byte

// SessionType distinguishes the two session kinds this core drives.
// HMAC and password sessions are explicitly out of scope.
type SessionType uint8

const (
	SessionTypeTrial SessionType = iota
	SessionTypePolicy
)

func (t SessionType) String() string {
	switch t {
	case SessionTypeTrial:
		return "trial"
	case SessionTypePolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// SessionAttributes is the single session-attribute octet carried on every
// command/response authorization area.
type SessionAttributes uint8

const (
	AttrContinueSession SessionAttributes = 1 << iota
	AttrAuditExclusive
	AttrAuditReset
	AttrCommandEncrypt
	AttrResponseEncrypt
	AttrAudit
)

// SymDef names a symmetric algorithm and key size negotiated for parameter
// encryption at session start. A nil *SymDef, or one with Algorithm ==
// AlgorithmNull, means no parameter encryption.
type SymDef struct {
	Algorithm AlgorithmId
	KeyBits   uint16
}

// PcrSelection is a list of (hash-algorithm, bitmap-of-PCR-indices) pairs.
type PcrSelection []PcrBank

// PcrBank selects a set of PCR indices under a single bank algorithm.
type PcrBank struct {
	Hash    AlgorithmId
	Indices []int
}

// Empty reports whether the selection selects no PCRs in any bank.
func (s PcrSelection) Empty() bool {
	for _, b := range s {
		if len(b.Indices) > 0 {
			return false
		}
	}
	return true
}

func (s PcrSelection) String() string {
	out := ""
	for i, b := range s {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s:%v", b.Hash, b.Indices)
	}
	return out
}

// Equal reports whether two selections match exactly, bank for bank and
// index for index, per spec.md section 3 ("Two selections are equal iff
// bitmaps match exactly per algorithm").
func (s PcrSelection) Equal(o PcrSelection) bool {
	if len(s) != len(o) {
		return false
	}
	sm := bankMap(s)
	om := bankMap(o)
	if len(sm) != len(om) {
		return false
	}
	for alg, bits := range sm {
		obits, ok := om[alg]
		if !ok || len(bits) != len(obits) {
			return false
		}
		for i := range bits {
			if bits[i] != obits[i] {
				return false
			}
		}
	}
	return true
}

// Merge combines s with o, bank by bank, union-ing PCR indices under each
// shared hash algorithm and appending banks present in only one side.
func (s PcrSelection) Merge(o PcrSelection) PcrSelection {
	byAlg := make(map[AlgorithmId]map[int]bool)
	order := make([]AlgorithmId, 0, len(s)+len(o))
	add := func(sel PcrSelection) {
		for _, b := range sel {
			set, ok := byAlg[b.Hash]
			if !ok {
				set = make(map[int]bool)
				byAlg[b.Hash] = set
				order = append(order, b.Hash)
			}
			for _, i := range b.Indices {
				set[i] = true
			}
		}
	}
	add(s)
	add(o)

	out := make(PcrSelection, 0, len(order))
	for _, alg := range order {
		set := byAlg[alg]
		indices := make([]int, 0, len(set))
		for i := range set {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		out = append(out, PcrBank{Hash: alg, Indices: indices})
	}
	return out
}

func bankMap(s PcrSelection) map[AlgorithmId][]bool {
	m := make(map[AlgorithmId][]bool)
	for _, b := range s {
		bits, ok := m[b.Hash]
		if !ok {
			bits = make([]bool, 0)
		}
		maxIdx := 0
		for _, i := range b.Indices {
			if i+1 > maxIdx {
				maxIdx = i + 1
			}
		}
		for len(bits) < maxIdx {
			bits = append(bits, false)
		}
		for _, i := range b.Indices {
			bits[i] = true
		}
		m[b.Hash] = bits
	}
	return m
}
