// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesHeapAndInstrDefaults(t *testing.T) {
	d := Default()
	assert.Equal(t, uint64(64*1024*1024), d.HeapByteLimit)
	assert.Equal(t, uint64(50_000_000), d.InstrLimit)
	assert.Equal(t, 10_000, d.MaxCallDepth)
	assert.False(t, d.Trace)
}

func TestLoadOverridesOnlyMentionedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.toml")
	require.NoError(t, os.WriteFile(path, []byte("trace = true\nmax_call_depth = 500\n"), 0o644))

	limits, err := Load(path)
	require.NoError(t, err)

	assert.True(t, limits.Trace)
	assert.Equal(t, 500, limits.MaxCallDepth)
	// Fields the file never mentioned keep Default()'s values.
	assert.Equal(t, Default().HeapByteLimit, limits.HeapByteLimit)
	assert.Equal(t, Default().InstrLimit, limits.InstrLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not valid = = toml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
