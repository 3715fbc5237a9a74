package kmyth

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// UnsealRequest names the already-loaded sealed object and the
// authorization material needed to recover its plaintext. Per spec.md
// section 1 non-goals, key-hierarchy creation and the sealed-blob
// container format are out of scope: the caller has already loaded the
// object and extracted its Name before calling Unseal.
type UnsealRequest struct {
	ObjectHandle Handle
	ObjectName   Name
	AuthBytes    []byte
	HashAlg      AlgorithmId

	// PcrSelection is the simple PCR-bound policy to satisfy. Leave nil
	// and set PolicyOrBranches instead for a policy-OR blob.
	PcrSelection PcrSelection

	// PolicyOrBranches, when non-nil, names the two PCR selections whose
	// CombinePolicyOr digest the object was sealed under. Unseal tries
	// whichever branch current PCR state actually satisfies.
	PolicyOrBranches *PolicyOrBranches
}

// PolicyOrBranches names the two sides of a compound policy-OR, per
// spec.md section 4.5.
type PolicyOrBranches struct {
	BranchA PcrSelection
	BranchB PcrSelection
}

// Unseal drives the data flow described in spec.md section 2: start a
// policy session, satisfy it against the request's PCR binding (plain or
// policy-OR), issue TPM2_Unseal under that session, and return the
// recovered plaintext. The session is always closed before returning,
// zeroizing its sensitive fields regardless of outcome.
func Unseal(ctx context.Context, transport Transport, cb CommandBuilder, crypto CryptoProvider, zero Zeroizer, logger Logger, req UnsealRequest) (plaintext []byte, resultErr error) {
	logger = logOrNop(logger)

	authValue, err := DeriveAuthValue(crypto, req.AuthBytes, req.HashAlg)
	if err != nil {
		return nil, err
	}
	defer zeroAll(zero, authValue)

	sess, err := StartSession(ctx, transport, cb, crypto, logger, SessionTypePolicy, HandleNull, HandleNull, nil, req.HashAlg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := sess.Close(ctx); closeErr != nil {
			resultErr = multierror.Append(resultErr, closeErr).ErrorOrNil()
		}
	}()

	engine := NewPolicyEngine(transport, cb, crypto, logger)

	if req.PolicyOrBranches != nil {
		if err := engine.satisfyPolicyOr(ctx, sess, req.PolicyOrBranches.BranchA, req.PolicyOrBranches.BranchB, req.HashAlg); err != nil {
			return nil, err
		}
	} else {
		if err := engine.satisfyPolicy(ctx, sess, req.PcrSelection); err != nil {
			return nil, err
		}
	}
	sess.policySatisfied = true

	plaintext, err = sess.Exchange(ctx, CommandUnseal, req.ObjectHandle, req.ObjectName, authValue, nil, AttrContinueSession, nil)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
