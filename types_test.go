package kmyth

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestAlgorithmId_SizeAndSupported(t *testing.T) {
	assert.Equal(t, 32, AlgorithmSHA256.Size())
	assert.True(t, AlgorithmSHA256.Supported())
	assert.False(t, AlgorithmNull.Supported())
}

func TestPcrSelection_Empty(t *testing.T) {
	assert.True(t, PcrSelection(nil).Empty())
	assert.True(t, PcrSelection{{Hash: AlgorithmSHA256, Indices: nil}}.Empty())
	assert.False(t, PcrSelection{{Hash: AlgorithmSHA256, Indices: []int{7}}}.Empty())
}

func TestPcrSelection_Equal(t *testing.T) {
	a := PcrSelection{{Hash: AlgorithmSHA256, Indices: []int{1, 7}}}
	b := PcrSelection{{Hash: AlgorithmSHA256, Indices: []int{7, 1}}}
	c := PcrSelection{{Hash: AlgorithmSHA256, Indices: []int{7}}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestPcrSelection_Merge(t *testing.T) {
	a := PcrSelection{{Hash: AlgorithmSHA256, Indices: []int{7}}}
	b := PcrSelection{{Hash: AlgorithmSHA256, Indices: []int{8}}, {Hash: AlgorithmSHA1, Indices: []int{0}}}

	merged := a.Merge(b)

	var sha256Bank, sha1Bank *PcrBank
	for i := range merged {
		switch merged[i].Hash {
		case AlgorithmSHA256:
			sha256Bank = &merged[i]
		case AlgorithmSHA1:
			sha1Bank = &merged[i]
		}
	}
	require := assert.New(t)
	require.NotNil(sha256Bank)
	require.NotNil(sha1Bank)
	require.ElementsMatch([]int{7, 8}, sha256Bank.Indices)
	require.ElementsMatch([]int{0}, sha1Bank.Indices)
}

// TestPcrSelection_Merge_ExactShape pins down bank order (first-seen) and
// per-bank index order (sorted ascending), not just set membership.
func TestPcrSelection_Merge_ExactShape(t *testing.T) {
	a := PcrSelection{{Hash: AlgorithmSHA256, Indices: []int{7}}}
	b := PcrSelection{{Hash: AlgorithmSHA256, Indices: []int{8}}, {Hash: AlgorithmSHA1, Indices: []int{0}}}

	merged := a.Merge(b)
	want := PcrSelection{
		{Hash: AlgorithmSHA256, Indices: []int{7, 8}},
		{Hash: AlgorithmSHA1, Indices: []int{0}},
	}

	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("Merge result mismatch (-want +got):\n%s", diff)
	}
}
