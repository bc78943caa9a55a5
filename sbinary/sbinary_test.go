package sbinary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/go-sieve/opcode"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	b := New()
	b.EmitOpcode(opcode.Keep)
	b.EmitExtOpcode("vacation", 0)
	b.EmitPackedInt(7)
	b.EmitString("hello world")
	b.EmitStringList([]string{"a", "bb", "ccc"})
	b.EmitOpcode(opcode.Stop)

	data := b.Marshal()
	require.True(t, len(data) > len(Magic), "marshaled binary should carry more than just the header")

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, b.ExtNames, got.ExtNames)
	require.Equal(t, b.Code, got.Code)

	// Re-marshaling the round-tripped binary must be byte-identical
	// (spec.md §8's "compile idempotence" property extended to the
	// cached-binary path).
	require.Equal(t, data, got.Marshal())
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	_, err := Unmarshal([]byte("nope"))
	require.Error(t, err)
}

func TestUnmarshalRejectsWrongVersion(t *testing.T) {
	b := New()
	b.EmitOpcode(opcode.Stop)
	data := b.Marshal()
	// corrupt the version field (bytes 4-5, big-endian u16)
	data[len(Magic)] = 0xff
	_, err := Unmarshal(data)
	require.Error(t, err)
}

func TestUnmarshalRejectsTruncatedExtensionName(t *testing.T) {
	b := New()
	b.ExtIndex("vacation")
	b.EmitOpcode(opcode.Stop)
	data := b.Marshal()
	_, err := Unmarshal(data[:len(data)-len(b.Code)-1])
	require.Error(t, err)
}

func TestExtIndexIsStableAndDeduplicates(t *testing.T) {
	b := New()
	i1 := b.ExtIndex("vacation")
	i2 := b.ExtIndex("duplicate")
	i3 := b.ExtIndex("vacation")
	require.Equal(t, i1, i3)
	require.NotEqual(t, i1, i2)

	name, ok := b.ExtName(i2)
	require.True(t, ok)
	require.Equal(t, "duplicate", name)

	_, ok = b.ExtName(uint32(len(b.ExtNames)))
	require.False(t, ok)
}
