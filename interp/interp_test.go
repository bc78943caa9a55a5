package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/opcode"
	"github.com/foxcpp/go-sieve/sbinary"
)

func stopOnlyBinary() *sbinary.Binary {
	b := sbinary.New()
	b.EmitOpcode(opcode.Stop)
	return b
}

func TestExecuteRejectsUnknownExtension(t *testing.T) {
	bin := sbinary.New()
	bin.ExtIndex("some-extension-nobody-registered")
	bin.EmitOpcode(opcode.Stop)

	data := NewRuntimeData(bin, extreg.NewRegistry(), DummyPolicy{}, EnvelopeStatic{}, MessageStatic{})
	status, err := Execute(context.Background(), data)

	require.Equal(t, StatusBinaryCorrupt, status)
	require.Error(t, err)
	var uerr *UnknownExtensionError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, "some-extension-nobody-registered", uerr.Name)
	require.Empty(t, data.Result.Actions(), "no opcode should run once an unknown extension is found")
}

func TestExecuteRunsKnownEmptyBinary(t *testing.T) {
	data := NewRuntimeData(stopOnlyBinary(), extreg.NewRegistry(), DummyPolicy{}, EnvelopeStatic{}, MessageStatic{})
	status, err := Execute(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
}

func TestExecuteKeepQueuesAction(t *testing.T) {
	b := sbinary.New()
	b.EmitOpcode(opcode.Keep)
	b.EmitPackedUint(0) // empty :flags string-list (count 0)
	b.EmitOpcode(opcode.Stop)

	data := NewRuntimeData(b, extreg.NewRegistry(), DummyPolicy{}, EnvelopeStatic{}, MessageStatic{})
	status, err := Execute(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.Len(t, data.Result.Actions(), 1)
	require.Equal(t, "keep", data.Result.Actions()[0].Name())
}

func TestKeepActionDuplicateMergesFlags(t *testing.T) {
	data := NewRuntimeData(stopOnlyBinary(), extreg.NewRegistry(), DummyPolicy{}, EnvelopeStatic{}, MessageStatic{})
	require.NoError(t, data.Result.Add(&KeepAction{Flags: []string{"seen"}}))
	require.NoError(t, data.Result.Add(&KeepAction{Flags: []string{"flagged"}}))

	require.Len(t, data.Result.Actions(), 1, "two keeps must fold into one")
	kept := data.Result.Actions()[0].(*KeepAction)
	require.ElementsMatch(t, []string{"seen", "flagged"}, kept.Flags)
}
