package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkValues(t *testing.T) {
	require.Nil(t, chunkValues(nil, 2))

	values := []any{1, 2, 3, 4, 5}
	require.Equal(t, [][]any{values}, chunkValues(values, 0))
	require.Equal(t, [][]any{{1, 2}, {3, 4}, {5}}, chunkValues(values, 2))
}

func TestKey(t *testing.T) {
	require.Equal(t, "", Key(nil))
	require.Equal(t, "12", Key(int64(12)))
	require.Equal(t, "12", Key(12))
	require.Equal(t, "12", Key([]byte("12")))
	require.Equal(t, "12", Key("12"))
	require.Equal(t, "1.5", Key(1.5))
}

func TestParsePK(t *testing.T) {
	require.Equal(t, int64(7), ParsePK("7"))
	require.Equal(t, "abc", ParsePK("abc"))
	require.Equal(t, 7, ParsePK(7))
}
