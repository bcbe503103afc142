// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package config loads Cyber's VM tuning limits from a small TOML file
// (§7 `[ADD]`), using github.com/naoina/toml the way go-ethereum loads its
// node/genesis configuration — deliberately scoped down to VM knobs only;
// per SPEC_FULL.md's Non-goals this is not a general configuration system.
package config

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
)

// VMLimits bounds a single VM instance's resource usage (§4.A's heap byte
// ceiling, §4.D's instruction budget placeholder, and a max call depth
// guarding the register-window growth pushCall performs on every call).
type VMLimits struct {
	HeapByteLimit  uint64 `toml:"heap_byte_limit"`
	InstrLimit     uint64 `toml:"instr_limit"`
	MaxCallDepth   int    `toml:"max_call_depth"`
	Trace          bool   `toml:"trace"`
}

// Default returns the limits a VM uses absent a config file, matching
// internal/heap.DefaultByteLimit and internal/vm.DefaultInstrLimit so a
// loaded Limits{} zero value never silently tightens the VM's defaults.
func Default() VMLimits {
	return VMLimits{
		HeapByteLimit: 64 * 1024 * 1024,
		InstrLimit:    50_000_000,
		MaxCallDepth:  10_000,
		Trace:         false,
	}
}

// Load reads and decodes a VMLimits TOML file at path. Fields the file does
// not mention keep Default()'s corresponding value, so a config file only
// needs to mention the knobs it actually overrides.
func Load(path string) (VMLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VMLimits{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	limits := Default()
	if err := toml.Unmarshal(data, &limits); err != nil {
		return VMLimits{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return limits, nil
}
