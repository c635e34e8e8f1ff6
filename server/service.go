package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/image"
	"github.com/chazu/repatch/patch"
)

// ServiceName is the Connect service every procedure is registered under.
const ServiceName = "repatch.v1.PatchService"

// Procedure paths.
const (
	CompileProcedure = "/" + ServiceName + "/Compile"
	ResolveProcedure = "/" + ServiceName + "/Resolve"
	LoadProcedure    = "/" + ServiceName + "/Load"
	ApplyProcedure   = "/" + ServiceName + "/Apply"
	CallProcedure    = "/" + ServiceName + "/Call"
	UnitsProcedure   = "/" + ServiceName + "/Units"
)

// PatchService implements the patch procedures over an image.
type PatchService struct {
	image    *image.Image
	compiler *compiler.Compiler
	engine   *patch.Engine
	defaults compiler.Options
}

// NewPatchService creates a PatchService. defaults are the compile flags
// merged into every Compile request.
func NewPatchService(im *image.Image, defaults compiler.Options) *PatchService {
	c := compiler.New(im)
	return &PatchService{
		image:    im,
		compiler: c,
		engine:   patch.New(c, im, im),
		defaults: defaults,
	}
}

// Compile compiles unit source, installing it when asked.
func (s *PatchService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	if req.Msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	flags, err := compiler.ParseFlags(strings.Join(req.Msg.Flags, ","))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	src, err := compiler.ParseSource(req.Msg.File, req.Msg.Source)
	if err != nil {
		var ce *compiler.Error
		if !errors.As(err, &ce) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, toConnectError(err)
	}

	out, err := s.compiler.CompileSource(ctx, src, s.defaults.With(flags...))
	if err != nil {
		return nil, toConnectError(err)
	}
	if req.Msg.Install {
		if err := s.image.Install(ctx, src.Identity, out.Unit.SourceTag(), out.Object); err != nil {
			return nil, toConnectError(err)
		}
	}

	resp := &CompileResponse{Identity: src.Identity, Object: out.Object}
	for _, w := range out.Warnings {
		resp.Warnings = append(resp.Warnings, w.String())
	}
	return connect.NewResponse(resp), nil
}

// Resolve resolves a patch without loading it.
func (s *PatchService) Resolve(
	ctx context.Context,
	req *connect.Request[ResolveRequest],
) (*connect.Response[ResolveResponse], error) {
	if req.Msg.Target == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("target is required"))
	}
	p, err := s.engine.Resolve(ctx, req.Msg.Target, req.Msg.Source)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ResolveResponse{
		Target:    p.Target,
		SourceTag: p.SourceTag,
		Object:    p.Object,
	}), nil
}

// Load installs a resolved patch.
func (s *PatchService) Load(
	ctx context.Context,
	req *connect.Request[LoadRequest],
) (*connect.Response[LoadResponse], error) {
	if req.Msg.Target == "" || len(req.Msg.Object) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("target and object are required"))
	}
	p := &patch.Patch{Target: req.Msg.Target, SourceTag: req.Msg.SourceTag, Object: req.Msg.Object}
	if err := s.engine.Load(ctx, p); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LoadResponse{}), nil
}

// Apply resolves and loads a patch.
func (s *PatchService) Apply(
	ctx context.Context,
	req *connect.Request[ApplyRequest],
) (*connect.Response[ApplyResponse], error) {
	if req.Msg.Target == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("target is required"))
	}
	if err := s.engine.ResolveAndLoad(ctx, req.Msg.Target, req.Msg.Source); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ApplyResponse{Target: req.Msg.Target}), nil
}

// Call calls an exported function.
func (s *PatchService) Call(
	ctx context.Context,
	req *connect.Request[CallRequest],
) (*connect.Response[CallResponse], error) {
	if req.Msg.Target == "" || req.Msg.Function == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("target and function are required"))
	}
	v, err := s.image.Call(ctx, req.Msg.Target, req.Msg.Function, req.Msg.Args...)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CallResponse{Result: v}), nil
}

// Units lists the loaded units.
func (s *PatchService) Units(
	ctx context.Context,
	req *connect.Request[UnitsRequest],
) (*connect.Response[UnitsResponse], error) {
	units, err := s.image.Units(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&UnitsResponse{Units: units}), nil
}
