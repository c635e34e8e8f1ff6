package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/repatch/image"
)

// Client calls a remote PatchServer.
type Client struct {
	compile *connect.Client[CompileRequest, CompileResponse]
	resolve *connect.Client[ResolveRequest, ResolveResponse]
	load    *connect.Client[LoadRequest, LoadResponse]
	apply   *connect.Client[ApplyRequest, ApplyResponse]
	call    *connect.Client[CallRequest, CallResponse]
	units   *connect.Client[UnitsRequest, UnitsResponse]
}

// NewClient creates a client for the server at baseURL, such as
// http://localhost:4567.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opt := connect.WithCodec(cborCodec{})
	return &Client{
		compile: connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, opt),
		resolve: connect.NewClient[ResolveRequest, ResolveResponse](httpClient, baseURL+ResolveProcedure, opt),
		load:    connect.NewClient[LoadRequest, LoadResponse](httpClient, baseURL+LoadProcedure, opt),
		apply:   connect.NewClient[ApplyRequest, ApplyResponse](httpClient, baseURL+ApplyProcedure, opt),
		call:    connect.NewClient[CallRequest, CallResponse](httpClient, baseURL+CallProcedure, opt),
		units:   connect.NewClient[UnitsRequest, UnitsResponse](httpClient, baseURL+UnitsProcedure, opt),
	}
}

// Compile compiles unit source on the server.
func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	resp, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Resolve resolves a patch without loading it.
func (c *Client) Resolve(ctx context.Context, target, source string) (*ResolveResponse, error) {
	resp, err := c.resolve.CallUnary(ctx, connect.NewRequest(&ResolveRequest{Target: target, Source: source}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Load installs a resolved patch.
func (c *Client) Load(ctx context.Context, p *ResolveResponse) error {
	_, err := c.load.CallUnary(ctx, connect.NewRequest(&LoadRequest{
		Target:    p.Target,
		SourceTag: p.SourceTag,
		Object:    p.Object,
	}))
	return err
}

// Apply resolves and loads a patch.
func (c *Client) Apply(ctx context.Context, target, source string) error {
	_, err := c.apply.CallUnary(ctx, connect.NewRequest(&ApplyRequest{Target: target, Source: source}))
	return err
}

// Call calls an exported function.
func (c *Client) Call(ctx context.Context, target, function string, args ...image.Value) (image.Value, error) {
	resp, err := c.call.CallUnary(ctx, connect.NewRequest(&CallRequest{Target: target, Function: function, Args: args}))
	if err != nil {
		return image.Value{}, err
	}
	return resp.Msg.Result, nil
}

// Units lists the units loaded on the server.
func (c *Client) Units(ctx context.Context) ([]image.UnitInfo, error) {
	resp, err := c.units.CallUnary(ctx, connect.NewRequest(&UnitsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Units, nil
}
