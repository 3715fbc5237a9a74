package kmyth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAuthValue_EmptyBytes(t *testing.T) {
	crypto := StandardCrypto{}
	for _, alg := range []AlgorithmId{AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA384, AlgorithmSHA512} {
		digest, err := DeriveAuthValue(crypto, nil, alg)
		require.NoError(t, err)
		assert.Equal(t, make(Digest, alg.Size()), digest)
	}
}

func TestDeriveAuthValue_NonEmptyBytes(t *testing.T) {
	crypto := StandardCrypto{}
	authBytes := []byte("s3cr3t")

	digest, err := DeriveAuthValue(crypto, authBytes, AlgorithmSHA256)
	require.NoError(t, err)

	expected, err := crypto.Hash(AlgorithmSHA256, authBytes)
	require.NoError(t, err)
	assert.Equal(t, expected, digest)
}

func TestDeriveAuthValue_UnsupportedAlgorithm(t *testing.T) {
	_, err := DeriveAuthValue(StandardCrypto{}, []byte("x"), AlgorithmNull)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidInput))
}
