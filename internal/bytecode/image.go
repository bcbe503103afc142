// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import "encoding/json"

// Image is a serializable snapshot of a compiled Buffer — the unit
// cmd/cyberdump loads, disassembles, and hands to the VM. Grounded on the
// teacher's own hand-rolled contract-bytes codec (magic-prefixed
// length-delimited sections); this module carries no on-chain magic
// prefix, so JSON round-tripping the same three side tables is adapted in
// place of a bespoke binary header.
type Image struct {
	Code            []byte      `json:"code"`
	Constants       []uint64    `json:"constants"`
	Strings         []byte      `json:"strings"`
	Funcs           []FuncMeta  `json:"funcs"`
	Signatures      []Signature `json:"signatures,omitempty"`
	DebugCompressed []byte      `json:"debug_compressed,omitempty"`
	EntryFunc       uint16      `json:"entry_func"`
}

// ToImage snapshots b as a serializable Image. entryFunc names the function
// index cmd/cyberdump's `run` subcommand should start at.
func (b *Buffer) ToImage(entryFunc uint16) *Image {
	return &Image{
		Code:            append([]byte(nil), b.Code...),
		Constants:       append([]uint64(nil), b.Constants...),
		Strings:         append([]byte(nil), b.Strings...),
		Funcs:           append([]FuncMeta(nil), b.Funcs...),
		Signatures:      append([]Signature(nil), b.Signatures...),
		DebugCompressed: b.CompressDebugSymbols(),
		EntryFunc:       entryFunc,
	}
}

// Marshal encodes the image as JSON.
func (img *Image) Marshal() ([]byte, error) {
	return json.Marshal(img)
}

// Unmarshal decodes an Image previously produced by Marshal.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// FromImage reconstructs a runnable/disassemblable Buffer from a
// previously serialized Image — the inverse of ToImage, used by
// cmd/cyberdump to load a bytecode file from disk before handing it to a
// vm.VM or to Disassemble.
func FromImage(img *Image) (*Buffer, error) {
	debug, err := img.DebugSymbols()
	if err != nil {
		return nil, err
	}
	sigs := img.Signatures
	if len(sigs) == 0 {
		sigs = []Signature{{}}
	}
	return &Buffer{
		Code:       append([]byte(nil), img.Code...),
		Constants:  append([]uint64(nil), img.Constants...),
		Strings:    append([]byte(nil), img.Strings...),
		Funcs:      append([]FuncMeta(nil), img.Funcs...),
		Signatures: append([]Signature(nil), sigs...),
		Debug:      debug,
	}, nil
}

// DebugSymbols decompresses the image's debug symbol table.
func (img *Image) DebugSymbols() ([]DebugSymbol, error) {
	if len(img.DebugCompressed) == 0 {
		return nil, nil
	}
	return DecompressDebugSymbols(img.DebugCompressed)
}
