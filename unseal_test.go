package kmyth_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SociOS-Linux/kmyth"
	"github.com/SociOS-Linux/kmyth/internal/fakesim"
)

func TestUnseal_EmptyAuthEmptyPolicy(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}
	tpm := fakesim.New(crypto)

	authValue, err := kmyth.DeriveAuthValue(crypto, nil, kmyth.AlgorithmSHA256)
	require.NoError(t, err)

	handle, name := tpm.LoadObject(authValue, make(kmyth.Digest, kmyth.AlgorithmSHA256.Size()), []byte(""))

	plaintext, err := kmyth.Unseal(ctx, tpm, tpm, crypto, kmyth.StandardZeroizer{}, nil, kmyth.UnsealRequest{
		ObjectHandle: handle,
		ObjectName:   name,
		AuthBytes:    nil,
		HashAlg:      kmyth.AlgorithmSHA256,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(""), plaintext)
}

func TestUnseal_NonEmptyAuth_WrongThenRight(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}
	tpm := fakesim.New(crypto)

	correctAuth, err := kmyth.DeriveAuthValue(crypto, []byte("s3cr3t"), kmyth.AlgorithmSHA256)
	require.NoError(t, err)

	handle, name := tpm.LoadObject(correctAuth, make(kmyth.Digest, kmyth.AlgorithmSHA256.Size()), []byte("hello"))

	_, err = kmyth.Unseal(ctx, tpm, tpm, crypto, kmyth.StandardZeroizer{}, nil, kmyth.UnsealRequest{
		ObjectHandle: handle,
		ObjectName:   name,
		AuthBytes:    []byte("wrong-password"),
		HashAlg:      kmyth.AlgorithmSHA256,
	})
	require.Error(t, err)
	assert.True(t, kmyth.IsKind(err, kmyth.KindTpmError))

	plaintext, err := kmyth.Unseal(ctx, tpm, tpm, crypto, kmyth.StandardZeroizer{}, nil, kmyth.UnsealRequest{
		ObjectHandle: handle,
		ObjectName:   name,
		AuthBytes:    []byte("s3cr3t"),
		HashAlg:      kmyth.AlgorithmSHA256,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)
}

func TestUnseal_PcrBoundPolicy_ExtendBreaksIt(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}
	tpm := fakesim.New(crypto)

	sel := kmyth.PcrSelection{{Hash: kmyth.AlgorithmSHA256, Indices: []int{7}}}
	engine := kmyth.NewPolicyEngine(tpm, tpm, crypto, nil)
	authPolicy, err := engine.BuildPolicyDigest(ctx, sel, kmyth.AlgorithmSHA256)
	require.NoError(t, err)

	authValue, err := kmyth.DeriveAuthValue(crypto, nil, kmyth.AlgorithmSHA256)
	require.NoError(t, err)
	handle, name := tpm.LoadObject(authValue, authPolicy, []byte("sealed-plaintext"))

	tpm.ExtendPCR(kmyth.AlgorithmSHA256, 7, []byte("measurement"))

	_, err = kmyth.Unseal(ctx, tpm, tpm, crypto, kmyth.StandardZeroizer{}, nil, kmyth.UnsealRequest{
		ObjectHandle: handle,
		ObjectName:   name,
		HashAlg:      kmyth.AlgorithmSHA256,
		PcrSelection: sel,
	})
	require.Error(t, err)
	assert.True(t, kmyth.IsKind(err, kmyth.KindTpmError))

	tpm.ResetPCR(kmyth.AlgorithmSHA256, 7)

	plaintext, err := kmyth.Unseal(ctx, tpm, tpm, crypto, kmyth.StandardZeroizer{}, nil, kmyth.UnsealRequest{
		ObjectHandle: handle,
		ObjectName:   name,
		HashAlg:      kmyth.AlgorithmSHA256,
		PcrSelection: sel,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed-plaintext"), plaintext)
}

func TestUnseal_PolicyOr_EitherBranchSatisfies(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}

	runWithBranch := func(t *testing.T, extendIndices ...int) error {
		tpm := fakesim.New(crypto)
		engine := kmyth.NewPolicyEngine(tpm, tpm, crypto, nil)

		selA := kmyth.PcrSelection{{Hash: kmyth.AlgorithmSHA256, Indices: []int{7}}}
		selB := kmyth.PcrSelection{{Hash: kmyth.AlgorithmSHA256, Indices: []int{8}}}

		digestA, err := engine.BuildPolicyDigest(ctx, selA, kmyth.AlgorithmSHA256)
		require.NoError(t, err)
		digestB, err := engine.BuildPolicyDigest(ctx, selB, kmyth.AlgorithmSHA256)
		require.NoError(t, err)

		combined, err := kmyth.CombinePolicyOr(crypto, kmyth.AlgorithmSHA256, digestA, digestB)
		require.NoError(t, err)

		authValue, err := kmyth.DeriveAuthValue(crypto, nil, kmyth.AlgorithmSHA256)
		require.NoError(t, err)
		handle, name := tpm.LoadObject(authValue, combined, []byte("or-sealed"))

		for _, idx := range extendIndices {
			tpm.ExtendPCR(kmyth.AlgorithmSHA256, idx, []byte("measurement"))
		}

		_, err = kmyth.Unseal(ctx, tpm, tpm, crypto, kmyth.StandardZeroizer{}, nil, kmyth.UnsealRequest{
			ObjectHandle: handle,
			ObjectName:   name,
			HashAlg:      kmyth.AlgorithmSHA256,
			PolicyOrBranches: &kmyth.PolicyOrBranches{
				BranchA: selA,
				BranchB: selB,
			},
		})
		return err
	}

	assert.NoError(t, runWithBranch(t, 7))
	assert.NoError(t, runWithBranch(t, 8))

	err := runWithBranch(t, 7, 8)
	require.Error(t, err)
	assert.True(t, kmyth.IsKind(err, kmyth.KindPolicyNotSatisfied) || kmyth.IsKind(err, kmyth.KindTpmError))
}

// tamperingTransport flips one bit of the response nonceTPM field, but only
// on the Unseal exchange itself: simulating an on-path attacker tampering
// with the authenticated command/response pair, per spec.md section 8
// scenario 5. Every other command (StartAuthSession, PolicyPCR, ...) passes
// through untouched, since corrupting their responses would desync the
// client's session state before the authenticated exchange even begins
// rather than exercise the response-HMAC check in exchangeOnce.
type tamperingTransport struct {
	inner *fakesim.FakeTPM
}

func (t tamperingTransport) Send(ctx context.Context, cmdBytes []byte) ([]byte, kmyth.ResponseCode, error) {
	rspBytes, rc, err := t.inner.Send(ctx, cmdBytes)
	if err != nil || len(cmdBytes) < 4 || len(rspBytes) < 4 {
		return rspBytes, rc, err
	}
	code := kmyth.CommandCode(binary.BigEndian.Uint32(cmdBytes[0:4]))
	if code != kmyth.CommandUnseal {
		return rspBytes, rc, err
	}

	tampered := append([]byte{}, rspBytes...)
	paramLen := binary.BigEndian.Uint32(tampered[0:4])
	// Unseal's response is [4B paramLen][params][2B nonceLen][nonce]...;
	// the nonce bytes start right after the 2-byte length prefix.
	nonceStart := 4 + int(paramLen) + 2
	if nonceStart < len(tampered) {
		tampered[nonceStart] ^= 0x01
	} else {
		tampered[len(tampered)-1] ^= 0x01
	}
	return tampered, rc, err
}

func TestUnseal_NonceTamper_AuthVerificationFailed(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}
	tpm := fakesim.New(crypto)

	authValue, err := kmyth.DeriveAuthValue(crypto, nil, kmyth.AlgorithmSHA256)
	require.NoError(t, err)
	handle, name := tpm.LoadObject(authValue, make(kmyth.Digest, kmyth.AlgorithmSHA256.Size()), []byte("plain"))

	transport := tamperingTransport{inner: tpm}

	_, err = kmyth.Unseal(ctx, transport, tpm, crypto, kmyth.StandardZeroizer{}, nil, kmyth.UnsealRequest{
		ObjectHandle: handle,
		ObjectName:   name,
		HashAlg:      kmyth.AlgorithmSHA256,
	})
	require.Error(t, err)
	assert.True(t, kmyth.IsKind(err, kmyth.KindAuthVerificationFailed))
}
