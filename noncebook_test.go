package kmyth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceBook_InitAndRoll(t *testing.T) {
	first := make(Nonce, AlgorithmSHA256.Size())
	first[0] = 0x01

	book, err := NewNonceBook(AlgorithmSHA256, first)
	require.NoError(t, err)
	assert.Equal(t, Nonce(first), book.Newer())
	assert.Empty(t, book.Older())

	incoming := make(Nonce, AlgorithmSHA256.Size())
	incoming[0] = 0x02

	preRollNewer := book.Newer()
	require.NoError(t, book.Roll(incoming))

	assert.Equal(t, preRollNewer, book.Older())
	assert.Equal(t, incoming, book.Newer())
}

func TestNonceBook_RollWrongLength(t *testing.T) {
	first := make(Nonce, AlgorithmSHA256.Size())
	book, err := NewNonceBook(AlgorithmSHA256, first)
	require.NoError(t, err)

	err = book.Roll(make(Nonce, 4))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidInput))
}

func TestNewNonceBook_WrongInitialLength(t *testing.T) {
	_, err := NewNonceBook(AlgorithmSHA256, make(Nonce, 4))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidInput))
}
