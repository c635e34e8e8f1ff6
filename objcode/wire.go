package objcode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/repatch/ir"
)

// encMode uses canonical CBOR so that the same unit always encodes to the
// same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("objcode: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 1024,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("objcode: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes v with the canonical encoding used for object code.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR produced by Marshal.
func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}

// ---------------------------------------------------------------------------
// Wire forms of the IR
// ---------------------------------------------------------------------------

const (
	declFunction  uint8 = 1
	declAttribute uint8 = 2
)

const (
	opInt uint8 = iota + 1
	opStr
	opBool
	opVar
	opCall
	opRemoteCall
	opBinOp
	opIf
	opRaise
	opInfo
)

type wireSig struct {
	Name  string `cbor:"1,keyasint"`
	Arity int    `cbor:"2,keyasint"`
}

type wireDecl struct {
	Kind        uint8             `cbor:"1,keyasint"`
	Name        string            `cbor:"2,keyasint"`
	Params      []string          `cbor:"3,keyasint,omitempty"`
	Body        *wireExpr         `cbor:"4,keyasint,omitempty"`
	Annotations map[string]string `cbor:"5,keyasint,omitempty"`
	Line        int               `cbor:"6,keyasint,omitempty"`
	Value       string            `cbor:"7,keyasint,omitempty"`
	Signatures  []wireSig         `cbor:"8,keyasint,omitempty"`
}

// wireExpr is a flat encoding of ir.Expr. Str holds string literals,
// variable and callee names and operators; Args holds child expressions in
// a per-op order.
type wireExpr struct {
	Op   uint8       `cbor:"1,keyasint"`
	Int  int64       `cbor:"2,keyasint,omitempty"`
	Str  string      `cbor:"3,keyasint,omitempty"`
	Unit string      `cbor:"4,keyasint,omitempty"`
	Args []*wireExpr `cbor:"5,keyasint,omitempty"`
}

func toWireSigs(sigs []ir.Signature) []wireSig {
	if len(sigs) == 0 {
		return nil
	}
	out := make([]wireSig, len(sigs))
	for i, s := range sigs {
		out[i] = wireSig{Name: s.Name, Arity: s.Arity}
	}
	return out
}

func fromWireSigs(ws []wireSig) []ir.Signature {
	if len(ws) == 0 {
		return nil
	}
	out := make([]ir.Signature, len(ws))
	for i, s := range ws {
		out[i] = ir.Signature{Name: s.Name, Arity: s.Arity}
	}
	return out
}

func toWireDecl(d ir.Declaration, annotations bool) (wireDecl, error) {
	switch d := d.(type) {
	case *ir.Function:
		body, err := toWireExpr(d.Body)
		if err != nil {
			return wireDecl{}, fmt.Errorf("function %s: %w", d.Signature(), err)
		}
		w := wireDecl{Kind: declFunction, Name: d.Name, Params: d.Params, Body: body, Line: d.Line}
		if annotations && len(d.Annotations) > 0 {
			w.Annotations = d.Annotations
		}
		return w, nil
	case *ir.Attribute:
		return wireDecl{Kind: declAttribute, Name: d.Name, Value: d.Value, Signatures: toWireSigs(d.Signatures)}, nil
	default:
		return wireDecl{}, fmt.Errorf("unknown declaration %T", d)
	}
}

func fromWireDecl(w wireDecl) (ir.Declaration, error) {
	switch w.Kind {
	case declFunction:
		body, err := fromWireExpr(w.Body)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", w.Name, err)
		}
		var params []string
		if len(w.Params) > 0 {
			params = w.Params
		}
		var ann map[string]string
		if len(w.Annotations) > 0 {
			ann = w.Annotations
		}
		return &ir.Function{Name: w.Name, Params: params, Body: body, Annotations: ann, Line: w.Line}, nil
	case declAttribute:
		return &ir.Attribute{Name: w.Name, Value: w.Value, Signatures: fromWireSigs(w.Signatures)}, nil
	default:
		return nil, fmt.Errorf("unknown declaration kind %d", w.Kind)
	}
}

func toWireExprs(es []ir.Expr) ([]*wireExpr, error) {
	if len(es) == 0 {
		return nil, nil
	}
	out := make([]*wireExpr, len(es))
	for i, e := range es {
		w, err := toWireExpr(e)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func toWireExpr(e ir.Expr) (*wireExpr, error) {
	switch e := e.(type) {
	case *ir.Int:
		return &wireExpr{Op: opInt, Int: e.Value}, nil
	case *ir.Str:
		return &wireExpr{Op: opStr, Str: e.Value}, nil
	case *ir.Bool:
		w := &wireExpr{Op: opBool}
		if e.Value {
			w.Int = 1
		}
		return w, nil
	case *ir.Var:
		return &wireExpr{Op: opVar, Str: e.Name}, nil
	case *ir.Call:
		args, err := toWireExprs(e.Args)
		return &wireExpr{Op: opCall, Str: e.Name, Args: args}, err
	case *ir.RemoteCall:
		args, err := toWireExprs(e.Args)
		return &wireExpr{Op: opRemoteCall, Unit: e.Unit, Str: e.Name, Args: args}, err
	case *ir.BinOp:
		args, err := toWireExprs([]ir.Expr{e.Left, e.Right})
		return &wireExpr{Op: opBinOp, Str: e.Op, Args: args}, err
	case *ir.If:
		args, err := toWireExprs([]ir.Expr{e.Cond, e.Then, e.Else})
		return &wireExpr{Op: opIf, Args: args}, err
	case *ir.Raise:
		args, err := toWireExprs([]ir.Expr{e.Message})
		return &wireExpr{Op: opRaise, Args: args}, err
	case *ir.Info:
		args, err := toWireExprs([]ir.Expr{e.Key})
		return &wireExpr{Op: opInfo, Args: args}, err
	case nil:
		return nil, fmt.Errorf("nil expression")
	default:
		return nil, fmt.Errorf("unknown expression %T", e)
	}
}

func fromWireExprs(ws []*wireExpr) ([]ir.Expr, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]ir.Expr, len(ws))
	for i, w := range ws {
		e, err := fromWireExpr(w)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func fromWireExpr(w *wireExpr) (ir.Expr, error) {
	if w == nil {
		return nil, fmt.Errorf("missing expression")
	}
	want := map[uint8]int{opBinOp: 2, opIf: 3, opRaise: 1, opInfo: 1}
	if n, ok := want[w.Op]; ok && len(w.Args) != n {
		return nil, fmt.Errorf("op %d: want %d operands, got %d", w.Op, n, len(w.Args))
	}
	args, err := fromWireExprs(w.Args)
	if err != nil {
		return nil, err
	}
	switch w.Op {
	case opInt:
		return &ir.Int{Value: w.Int}, nil
	case opStr:
		return &ir.Str{Value: w.Str}, nil
	case opBool:
		return &ir.Bool{Value: w.Int != 0}, nil
	case opVar:
		return &ir.Var{Name: w.Str}, nil
	case opCall:
		return &ir.Call{Name: w.Str, Args: args}, nil
	case opRemoteCall:
		return &ir.RemoteCall{Unit: w.Unit, Name: w.Str, Args: args}, nil
	case opBinOp:
		return &ir.BinOp{Op: w.Str, Left: args[0], Right: args[1]}, nil
	case opIf:
		return &ir.If{Cond: args[0], Then: args[1], Else: args[2]}, nil
	case opRaise:
		return &ir.Raise{Message: args[0]}, nil
	case opInfo:
		return &ir.Info{Key: args[0]}, nil
	default:
		return nil, fmt.Errorf("unknown op %d", w.Op)
	}
}

// ---------------------------------------------------------------------------
// Chunks
// ---------------------------------------------------------------------------

// Code is the executable form of a unit: what the image needs to run it.
type Code struct {
	Exports    []ir.Signature
	Functions  []*ir.Function
	Attributes map[string]string // scalar unit attributes (unit, file, doc)
}

type wireCode struct {
	Exports    []wireSig         `cbor:"1,keyasint,omitempty"`
	Functions  []wireDecl        `cbor:"2,keyasint,omitempty"`
	Attributes map[string]string `cbor:"3,keyasint,omitempty"`
}

// New assembles an object for a compiled unit. The IR chunk is only
// written when embedIR is set.
func New(unit *ir.Unit, flags []string, embedIR bool) (*Object, error) {
	o := &Object{Identity: unit.Identity(), Chunks: make(map[string]Chunk)}

	var code wireCode
	code.Exports = toWireSigs(unit.Exports())
	for _, d := range unit.Decls {
		switch d := d.(type) {
		case *ir.Function:
			w, err := toWireDecl(d, false)
			if err != nil {
				return nil, fmt.Errorf("objcode: %w", err)
			}
			code.Functions = append(code.Functions, w)
		case *ir.Attribute:
			if d.Name == ir.AttrExport {
				continue
			}
			if code.Attributes == nil {
				code.Attributes = make(map[string]string)
			}
			code.Attributes[d.Name] = d.Value
		}
	}
	data, err := encMode.Marshal(code)
	if err != nil {
		return nil, fmt.Errorf("objcode: marshal code: %w", err)
	}
	o.Chunks[ChunkCode] = Chunk{Format: FormatCode, Data: data}

	if embedIR {
		data, err := EncodeIR(unit)
		if err != nil {
			return nil, err
		}
		o.Chunks[ChunkIR] = Chunk{Format: FormatIR, Data: data}
	}

	if flags == nil {
		flags = []string{}
	}
	data, err = encMode.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("objcode: marshal options: %w", err)
	}
	o.Chunks[ChunkOptions] = Chunk{Format: FormatOptions, Data: data}

	if tag := unit.SourceTag(); tag != "" {
		o.Chunks[ChunkSource] = Chunk{Format: FormatSource, Data: []byte(tag)}
	}
	return o, nil
}

// EncodeIR serializes a unit's declarations in IR chunk format.
func EncodeIR(unit *ir.Unit) ([]byte, error) {
	decls := make([]wireDecl, 0, len(unit.Decls))
	for _, d := range unit.Decls {
		w, err := toWireDecl(d, true)
		if err != nil {
			return nil, fmt.Errorf("objcode: %w", err)
		}
		decls = append(decls, w)
	}
	data, err := encMode.Marshal(decls)
	if err != nil {
		return nil, fmt.Errorf("objcode: marshal IR: %w", err)
	}
	return data, nil
}

// DecodeIR parses IR chunk data.
func DecodeIR(data []byte) (*ir.Unit, error) {
	var decls []wireDecl
	if err := decMode.Unmarshal(data, &decls); err != nil {
		return nil, fmt.Errorf("%w: IR chunk: %v", ErrUnknownFormat, err)
	}
	u := &ir.Unit{Decls: make([]ir.Declaration, 0, len(decls))}
	for _, w := range decls {
		d, err := fromWireDecl(w)
		if err != nil {
			return nil, fmt.Errorf("%w: IR chunk: %v", ErrUnknownFormat, err)
		}
		u.Decls = append(u.Decls, d)
	}
	return u, nil
}

// Unit returns the IR embedded in the object.
func (o *Object) Unit() (*ir.Unit, error) {
	data, err := o.chunk(ChunkIR, FormatIR)
	if err != nil {
		return nil, err
	}
	return DecodeIR(data)
}

// Code returns the executable form of the object.
func (o *Object) Code() (*Code, error) {
	data, err := o.chunk(ChunkCode, FormatCode)
	if err != nil {
		return nil, err
	}
	var w wireCode
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: code chunk: %v", ErrUnknownFormat, err)
	}
	c := &Code{Exports: fromWireSigs(w.Exports), Attributes: w.Attributes}
	for _, wd := range w.Functions {
		d, err := fromWireDecl(wd)
		if err != nil {
			return nil, fmt.Errorf("%w: code chunk: %v", ErrUnknownFormat, err)
		}
		fn, ok := d.(*ir.Function)
		if !ok {
			return nil, fmt.Errorf("%w: code chunk holds a non-function", ErrUnknownFormat)
		}
		c.Functions = append(c.Functions, fn)
	}
	return c, nil
}
