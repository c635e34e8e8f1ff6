package server

import (
	"github.com/chazu/repatch/image"
)

// CompileRequest compiles unit source and optionally installs it.
type CompileRequest struct {
	File    string   `cbor:"1,keyasint,omitempty"`
	Source  string   `cbor:"2,keyasint"`
	Flags   []string `cbor:"3,keyasint,omitempty"`
	Install bool     `cbor:"4,keyasint,omitempty"`
}

type CompileResponse struct {
	Identity string   `cbor:"1,keyasint"`
	Object   []byte   `cbor:"2,keyasint"`
	Warnings []string `cbor:"3,keyasint,omitempty"`
}

// ResolveRequest resolves patch source against a loaded unit without
// loading the result.
type ResolveRequest struct {
	Target string `cbor:"1,keyasint"`
	Source string `cbor:"2,keyasint"`
}

type ResolveResponse struct {
	Target    string `cbor:"1,keyasint"`
	SourceTag string `cbor:"2,keyasint,omitempty"`
	Object    []byte `cbor:"3,keyasint"`
}

// LoadRequest installs a previously resolved patch.
type LoadRequest struct {
	Target    string `cbor:"1,keyasint"`
	SourceTag string `cbor:"2,keyasint,omitempty"`
	Object    []byte `cbor:"3,keyasint"`
}

type LoadResponse struct{}

// ApplyRequest resolves and loads a patch in one step.
type ApplyRequest struct {
	Target string `cbor:"1,keyasint"`
	Source string `cbor:"2,keyasint"`
}

type ApplyResponse struct {
	Target string `cbor:"1,keyasint"`
}

// CallRequest calls an exported function of a loaded unit.
type CallRequest struct {
	Target   string        `cbor:"1,keyasint"`
	Function string        `cbor:"2,keyasint"`
	Args     []image.Value `cbor:"3,keyasint,omitempty"`
}

type CallResponse struct {
	Result image.Value `cbor:"1,keyasint"`
}

type UnitsRequest struct{}

type UnitsResponse struct {
	Units []image.UnitInfo `cbor:"1,keyasint,omitempty"`
}
