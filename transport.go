package kmyth

import (
	"context"
	"encoding/binary"
)

// Transport is the request/response collaborator the core dispatches
// prepared command buffers through, per spec.md section 6. It is the one
// suspension point in the whole core: everything else is CPU-bound.
type Transport interface {
	// Send submits a fully-serialized command buffer and returns the raw
	// response buffer together with the TPM response code extracted from
	// its header. A transport-level failure (not a TPM response code) is
	// returned as err.
	Send(ctx context.Context, cmdBytes []byte) (rspBytes []byte, rc ResponseCode, err error)
}

// CommandBuilder assembles a command buffer out of the pieces Session
// already has on hand: the command code, handle area, parameter area, and
// (when authorized) the session auth area. The core does not serialize
// TSS2 structures itself — per spec.md section 6 it delegates that to the
// transport's own helpers — so this is a narrow seam the transport
// implements however its TSS2 layer requires.
type CommandBuilder interface {
	// BuildCommand returns the exact bytes to send.
	BuildCommand(code CommandCode, handle Handle, auth *AuthArea, params []byte) ([]byte, error)

	// ParseResponse extracts the response auth area (when present) and the
	// response parameter bytes from a raw response buffer.
	ParseResponse(rspBytes []byte, expectAuthArea bool) (paramsOut []byte, auth *AuthArea, err error)
}

// AuthArea is the wire-level auth area attached to a command, or parsed
// back out of a response, per spec.md section 4.6 steps 4-5.
type AuthArea struct {
	Handle     Handle
	Nonce      Nonce
	Attributes SessionAttributes
	HMAC       Digest
}

// appendU32, appendU16 and beU32 are the minimal big-endian helpers
// session.go uses to encode the StartAuthSession parameters and decode its
// response.
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

func beU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
