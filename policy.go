package kmyth

import (
	"context"
	"encoding/binary"
)

// encodePcrSelection serializes a PCR selection for the PolicyPCR command
// parameters; applyPcrPolicy prepends the empty pcrDigest to it. The wire
// encoding of a PcrSelection is opaque beyond this core's own use of it,
// so policy.go owns a minimal encoding sufficient to round-trip through a
// Transport/CommandBuilder pair; a full TSS2 transport replaces this with
// its own marshaling.
func encodePcrSelection(s PcrSelection) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(s)))
	for _, bank := range s {
		bankBuf := make([]byte, 2+2+4*len(bank.Indices))
		binary.BigEndian.PutUint16(bankBuf, uint16(bank.Hash))
		binary.BigEndian.PutUint16(bankBuf[2:], uint16(len(bank.Indices)))
		for i, idx := range bank.Indices {
			binary.BigEndian.PutUint32(bankBuf[4+4*i:], uint32(idx))
		}
		buf = append(buf, bankBuf...)
	}
	return buf
}

// PolicyEngine drives a trial or real policy session through the scripted
// command sequence described in spec.md section 4.5. It is stateless
// itself; it operates on a Session the caller already started.
type PolicyEngine struct {
	transport Transport
	cb        CommandBuilder
	crypto    CryptoProvider
	logger    Logger
}

// NewPolicyEngine constructs a PolicyEngine over the given transport and
// command builder.
func NewPolicyEngine(transport Transport, cb CommandBuilder, crypto CryptoProvider, logger Logger) *PolicyEngine {
	return &PolicyEngine{transport: transport, cb: cb, crypto: crypto, logger: logOrNop(logger)}
}

// issuePolicyCommand sends a policy-shaping command against a session
// handle. These commands are not themselves authorized by the session's
// authHMAC machinery — they are how a trial or policy session accumulates
// its own digest — so no auth area is attached, matching spec.md section
// 4.5's description of PolicyPCR/PolicyOR as direct script steps.
func (p *PolicyEngine) issuePolicyCommand(ctx context.Context, code CommandCode, handle Handle, params []byte) ([]byte, error) {
	cmdBytes, err := p.cb.BuildCommand(code, handle, nil, params)
	if err != nil {
		return nil, wrapError(KindInternal, "failed to build policy command", err)
	}
	rspBytes, rc, err := p.transport.Send(ctx, cmdBytes)
	if err != nil {
		return nil, wrapError(KindTransportFailure, "policy command transport failure", err)
	}
	if rc != Success {
		return nil, tpmError(code, rc)
	}
	paramsOut, _, err := p.cb.ParseResponse(rspBytes, false)
	if err != nil {
		return nil, wrapError(KindInternal, "failed to parse policy response", err)
	}
	return paramsOut, nil
}

// applyPcrPolicy runs the PolicyPCR step of spec.md section 4.5 step 2
// against handle, when pcrSelection is non-empty.
func (p *PolicyEngine) applyPcrPolicy(ctx context.Context, handle Handle, pcrSelection PcrSelection) error {
	if pcrSelection.Empty() {
		return nil
	}
	params := append([]byte{}, emptyPcrDigestPlaceholder...)
	params = append(params, encodePcrSelection(pcrSelection)...)
	_, err := p.issuePolicyCommand(ctx, CommandPolicyPCR, handle, params)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindTpmError {
			return wrapError(KindPolicyNotSatisfied, "PCR state did not match policy", err)
		}
		return err
	}
	return nil
}

// emptyPcrDigestPlaceholder is the zero-length pcrDigest parameter used for
// a trial-session PolicyPCR call, per spec.md section 4.5 step 2 ("trial
// session computes the digest as if the PCRs matched").
var emptyPcrDigestPlaceholder = []byte{}

// policyGetDigest reads back the session's current accumulated policy
// digest, per spec.md section 4.5 step 3.
func (p *PolicyEngine) policyGetDigest(ctx context.Context, handle Handle) (Digest, error) {
	out, err := p.issuePolicyCommand(ctx, CommandPolicyGetDigest, handle, nil)
	if err != nil {
		return nil, err
	}
	return Digest(out), nil
}

// BuildPolicyDigest runs a fresh trial session through the PCR-bound
// policy script and returns the resulting digest, per spec.md section 4.5
// ("buildPolicyDigest"). This is the digest callers bind to a new object
// at seal time; it never authorizes a live command.
func (p *PolicyEngine) BuildPolicyDigest(ctx context.Context, pcrSelection PcrSelection, hashAlg AlgorithmId) (Digest, error) {
	sess, err := StartSession(ctx, p.transport, p.cb, p.crypto, p.logger, SessionTypeTrial, HandleNull, HandleNull, nil, hashAlg)
	if err != nil {
		return nil, err
	}
	defer sess.Close(ctx)

	if err := p.applyPcrPolicy(ctx, sess.handle, pcrSelection); err != nil {
		return nil, err
	}
	return p.policyGetDigest(ctx, sess.handle)
}

// satisfyPolicy runs the same PCR-bound script against a live policy
// session, per spec.md section 4.5 ("satisfyPolicy"). Per the tie-break
// rule in spec.md section 4.5, callers must not attempt both branches of a
// policy-OR speculatively; PCR state determines which single branch is
// satisfiable.
func (p *PolicyEngine) satisfyPolicy(ctx context.Context, sess *Session, pcrSelection PcrSelection) error {
	if sess.sessionType != SessionTypePolicy {
		return internalf("satisfyPolicy requires a policy session, got %s", sess.sessionType)
	}
	return p.applyPcrPolicy(ctx, sess.handle, pcrSelection)
}

// satisfyPolicyOr runs the PCR script for whichever of branch1/branch2 is
// satisfiable given current PCR state, then issues PolicyOR(handle,
// [branch1, branch2]) in that exact order, per spec.md section 4.5.
// Branch order must match the order used when the caller originally
// computed CombinePolicyOr. Any TpmError from PolicyOR, including the
// TPM_RC_VALUE a TPM returns for a branch-order mismatch, is returned as
// PolicyNotSatisfied wrapping that TpmError.
func (p *PolicyEngine) satisfyPolicyOr(ctx context.Context, sess *Session, pcrA, pcrB PcrSelection, hashAlg AlgorithmId) error {
	if sess.sessionType != SessionTypePolicy {
		return internalf("satisfyPolicyOr requires a policy session, got %s", sess.sessionType)
	}

	errA := p.applyPcrPolicy(ctx, sess.handle, pcrA)
	if errA != nil && !IsKind(errA, KindPolicyNotSatisfied) {
		return errA
	}
	if errA != nil {
		errB := p.applyPcrPolicy(ctx, sess.handle, pcrB)
		if errB != nil {
			return wrapError(KindPolicyNotSatisfied, "neither policy-OR branch is satisfiable under current PCR state", errB)
		}
	}

	branch1, err := p.BuildPolicyDigest(ctx, pcrA, hashAlg)
	if err != nil {
		return err
	}
	branch2, err := p.BuildPolicyDigest(ctx, pcrB, hashAlg)
	if err != nil {
		return err
	}

	params := append([]byte{}, branch1...)
	params = append(params, branch2...)
	_, err = p.issuePolicyCommand(ctx, CommandPolicyOR, sess.handle, params)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindTpmError {
			return wrapError(KindPolicyNotSatisfied, "PolicyOR rejected by TPM", err)
		}
		return err
	}
	return nil
}

// CombinePolicyOr computes the compound policy-OR digest of two branches,
// per spec.md section 4.5: H(u32be(TPM_CC_PolicyOR) || branch1 || branch2).
// Branch order is preserved and position-sensitive: CombinePolicyOr(alg,
// a, b) != CombinePolicyOr(alg, b, a) whenever a != b.
func CombinePolicyOr(crypto CryptoProvider, hashAlg AlgorithmId, branch1, branch2 Digest) (Digest, error) {
	buf := make([]byte, 4, 4+len(branch1)+len(branch2))
	binary.BigEndian.PutUint32(buf, uint32(CommandPolicyOR))
	buf = append(buf, branch1...)
	buf = append(buf, branch2...)
	return crypto.Hash(hashAlg, buf)
}
