package demo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssaobf/internal/ireval"
)

func TestClampPositiveMatchesMaxWithZero(t *testing.T) {
	fn := ClampPositive()
	cases := []struct{ in, want int64 }{
		{5, 5},
		{0, 0},
		{-3, 0},
	}
	for _, c := range cases {
		got, err := ireval.Run(fn, []int64{c.in}, 1000)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestSumToMatchesGaussSum(t *testing.T) {
	fn := SumTo()
	got, err := ireval.Run(fn, []int64{5}, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0+1+2+3+4), got)
}

func TestProgramBundlesBothFunctions(t *testing.T) {
	prog := Program()
	assert.Len(t, prog.Functions, 2)
}
