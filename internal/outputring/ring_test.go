package outputring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_RetainsLastN(t *testing.T) {
	r, err := New(5)
	require.NoError(t, err)

	_, err = r.Write([]byte("abcdefgh"))
	require.NoError(t, err)

	require.Equal(t, "defgh", r.String())
	require.True(t, r.Truncated())
	require.EqualValues(t, 8, r.TotalWritten())
}

func TestRing_NoTruncationUnderLimit(t *testing.T) {
	r, err := New(10)
	require.NoError(t, err)

	_, err = r.Write([]byte("short"))
	require.NoError(t, err)

	require.Equal(t, "short", r.String())
	require.False(t, r.Truncated())
}

func TestRing_MultipleWrites(t *testing.T) {
	r, err := New(5)
	require.NoError(t, err)

	for _, chunk := range []string{"ab", "cd", "ef", "gh"} {
		_, err := r.Write([]byte(chunk))
		require.NoError(t, err)
	}

	require.Equal(t, "defgh", r.String())
}

func TestRing_MultiByteUTF8(t *testing.T) {
	r, err := New(3)
	require.NoError(t, err)

	_, err = r.Write([]byte("héllo wörld"))
	require.NoError(t, err)

	tail := r.String()
	require.LessOrEqual(t, len([]rune(tail)), 3)
	require.True(t, strings.HasSuffix("wörld", tail) || strings.Contains("wörld", tail))
}

func TestRing_Empty(t *testing.T) {
	r, err := New(100)
	require.NoError(t, err)
	require.Equal(t, "", r.String())
	require.False(t, r.Truncated())
	require.EqualValues(t, 0, r.TotalWritten())
}
