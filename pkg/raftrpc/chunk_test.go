package raftrpc_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raftrpc"
)

func TestChunkUTF8NeverSplitsAMultibyteRune(t *testing.T) {
	data := strings.Repeat("a", 10) + "ééé" + strings.Repeat("b", 10) // é is 2 bytes
	for size := 1; size < len(data)+2; size++ {
		chunks := raftrpc.ChunkUTF8(data, size)
		var rejoined strings.Builder
		for _, c := range chunks {
			require.True(t, utf8.ValidString(c), "chunk %q not valid utf8 at size %d", c, size)
			rejoined.WriteString(c)
		}
		require.Equal(t, data, rejoined.String())
	}
}

func TestChunkUTF8EmptyInput(t *testing.T) {
	chunks := raftrpc.ChunkUTF8("", 10)
	require.Equal(t, []string{""}, chunks)
}

func TestChunkUTF8ExactMultiple(t *testing.T) {
	data := "0123456789"
	chunks := raftrpc.ChunkUTF8(data, 5)
	require.Equal(t, []string{"01234", "56789"}, chunks)
}

func TestChunkUTF8SmallerThanChunkSize(t *testing.T) {
	data := "short"
	chunks := raftrpc.ChunkUTF8(data, 4096)
	require.Equal(t, []string{"short"}, chunks)
}
