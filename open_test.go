package sieve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/go-sieve/extreg"
)

const openTestScript = `require ["fileinto"];
if header :is "Subject" "Hi" {
	fileinto "INBOX.Greetings";
}
`

func TestCompileMarshalOpenRoundTrip(t *testing.T) {
	reg := NewRegistry([]string{"fileinto"})
	script, _, err := Compile("test.sieve", openTestScript, reg, nil)
	require.NoError(t, err)

	data := script.Marshal()
	reopened, err := Open(data, reg)
	require.NoError(t, err)
	require.Equal(t, data, reopened.Marshal(), "open(compile(s)) must equal compile(s) byte-exactly")
}

func TestOpenRejectsUnknownExtension(t *testing.T) {
	compileReg := NewRegistry([]string{"fileinto", "vacation"})
	script, _, err := Compile("test.sieve", `require ["vacation"];
vacation "on holiday";
`, compileReg, nil)
	require.NoError(t, err)
	data := script.Marshal()

	// A registry that never registered the vacation extension at all
	// (as opposed to one that merely disallows requiring it) can no
	// longer resolve the binary's extension index - simulating a host
	// reopening a cached binary after dropping an extension's plugin.
	bareReg := &Registry{ext: extreg.NewRegistry()}
	_, err = Open(data, bareReg)
	require.Error(t, err)
}

func TestCompileIdempotence(t *testing.T) {
	reg := NewRegistry([]string{"fileinto"})
	s1, _, err := Compile("test.sieve", openTestScript, reg, nil)
	require.NoError(t, err)
	s2, _, err := Compile("test.sieve", openTestScript, reg, nil)
	require.NoError(t, err)
	require.Equal(t, s1.Marshal(), s2.Marshal())
}
