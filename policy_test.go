package kmyth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SociOS-Linux/kmyth"
	"github.com/SociOS-Linux/kmyth/internal/fakesim"
)

func TestBuildPolicyDigest_EmptySelectionIsAllZero(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}
	tpm := fakesim.New(crypto)
	engine := kmyth.NewPolicyEngine(tpm, tpm, crypto, nil)

	digest, err := engine.BuildPolicyDigest(ctx, nil, kmyth.AlgorithmSHA256)
	require.NoError(t, err)
	assert.Equal(t, make(kmyth.Digest, kmyth.AlgorithmSHA256.Size()), digest)
}

func TestBuildPolicyDigest_PcrBoundDiffersFromEmpty(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}
	tpm := fakesim.New(crypto)
	engine := kmyth.NewPolicyEngine(tpm, tpm, crypto, nil)

	emptyDigest, err := engine.BuildPolicyDigest(ctx, nil, kmyth.AlgorithmSHA256)
	require.NoError(t, err)

	sel := kmyth.PcrSelection{{Hash: kmyth.AlgorithmSHA256, Indices: []int{7}}}
	boundDigest, err := engine.BuildPolicyDigest(ctx, sel, kmyth.AlgorithmSHA256)
	require.NoError(t, err)

	assert.NotEqual(t, emptyDigest, boundDigest)
}

func TestCombinePolicyOr_NotCommutative(t *testing.T) {
	crypto := kmyth.StandardCrypto{}
	a := kmyth.Digest{1, 2, 3}
	b := kmyth.Digest{4, 5, 6}

	ab, err := kmyth.CombinePolicyOr(crypto, kmyth.AlgorithmSHA256, a, b)
	require.NoError(t, err)
	ba, err := kmyth.CombinePolicyOr(crypto, kmyth.AlgorithmSHA256, b, a)
	require.NoError(t, err)

	assert.NotEqual(t, ab, ba)
}
