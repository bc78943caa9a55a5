package sieve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsApplyBuildsUsableRegistry(t *testing.T) {
	opts := DefaultOptions()
	opts.EnabledExtensions = []string{"fileinto"}
	reg := opts.Apply()
	require.NotNil(t, reg)
	require.Contains(t, reg.Extensions(), "fileinto")
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sieve.toml")
	toml := `
max_validation_errors = 5
duplicate_expire_seconds = 3600
enabled_extensions = ["fileinto", "vacation"]
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))

	opts := DefaultOptions()
	require.NoError(t, opts.LoadConfig(path))

	require.Equal(t, 5, opts.MaxValidationErrors)
	require.Equal(t, int64(3600), opts.DuplicateExpireSeconds)
	require.ElementsMatch(t, []string{"fileinto", "vacation"}, opts.EnabledExtensions)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	opts := DefaultOptions()
	err := opts.LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}

func TestCompileWithOptionsHonorsMaxValidationErrors(t *testing.T) {
	reg := NewRegistry(nil)
	opts := DefaultOptions()
	opts.MaxValidationErrors = 1

	// Two unknown commands: with a max of 1, validation should stop after
	// the first error is reported rather than accumulating both.
	src := "frobnicate; frobnicate;"
	_, warnings, err := CompileWithOptions("test.sieve", src, reg, nil, opts)
	require.Error(t, err)
	require.Empty(t, warnings)
}
