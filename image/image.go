// Package image implements a live process image: a table of loaded units
// that can be called into and whose code can be replaced while the image
// is running.
//
// All table access runs on a single worker goroutine, so Install is an
// atomic swap: a call either runs entirely on the old code or entirely on
// the new code.
package image

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/repatch/ir"
	"github.com/chazu/repatch/objcode"
)

var log = commonlog.GetLogger("repatch.image")

var (
	// ErrNotLoaded is returned when a unit identity is not in the image.
	ErrNotLoaded = errors.New("unit is not loaded")
	// ErrProtected is returned when installing over or purging a
	// protected unit.
	ErrProtected = errors.New("unit is protected")
)

// DefaultMaxDepth bounds nested function calls during evaluation.
const DefaultMaxDepth = 10000

// loadedUnit is the installed form of one unit.
type loadedUnit struct {
	identity  string
	sourceTag string
	object    []byte
	exports   []ir.Signature
	exported  map[ir.Signature]bool
	funcs     map[ir.Signature]*ir.Function
	attrs     map[string]string
}

func newLoadedUnit(identity, sourceTag string, object []byte, code *objcode.Code) *loadedUnit {
	lu := &loadedUnit{
		identity:  identity,
		sourceTag: sourceTag,
		object:    object,
		exports:   code.Exports,
		exported:  make(map[ir.Signature]bool, len(code.Exports)),
		funcs:     make(map[ir.Signature]*ir.Function, len(code.Functions)),
		attrs:     code.Attributes,
	}
	for _, sig := range code.Exports {
		lu.exported[sig] = true
	}
	for _, fn := range code.Functions {
		lu.funcs[fn.Signature()] = fn
	}
	return lu
}

// UnitInfo describes a loaded unit.
type UnitInfo struct {
	Identity  string         `cbor:"1,keyasint"`
	SourceTag string         `cbor:"2,keyasint,omitempty"`
	Exports   []ir.Signature `cbor:"3,keyasint,omitempty"`
	Protected bool           `cbor:"4,keyasint,omitempty"`
}

// Image is a running process image.
type Image struct {
	worker   *Worker
	maxDepth int

	// Owned by the worker goroutine.
	units     map[string]*loadedUnit
	protected map[string]bool
}

// New creates an empty image and starts its worker.
func New() *Image {
	return &Image{
		worker:    NewWorker(),
		maxDepth:  DefaultMaxDepth,
		units:     make(map[string]*loadedUnit),
		protected: make(map[string]bool),
	}
}

// SetMaxDepth changes the evaluation depth limit. Values below one restore
// the default.
func (im *Image) SetMaxDepth(n int) {
	if n < 1 {
		n = DefaultMaxDepth
	}
	_, _ = im.worker.Do(context.Background(), func() (interface{}, error) {
		im.maxDepth = n
		return nil, nil
	})
}

// Close stops the worker. The image cannot be used afterwards.
func (im *Image) Close() {
	im.worker.Stop()
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Install loads object code under identity, replacing any code already
// installed there. The object is fully decoded before the swap, so a
// rejected install leaves the previous code in place.
func (im *Image) Install(ctx context.Context, identity, sourceTag string, object []byte) error {
	obj, err := objcode.Decode(object)
	if err != nil {
		return fmt.Errorf("malformed object code: %w", err)
	}
	if obj.Identity != identity {
		return fmt.Errorf("object code is for unit %q, not %q", obj.Identity, identity)
	}
	code, err := obj.Code()
	if err != nil {
		return fmt.Errorf("malformed object code: %w", err)
	}
	lu := newLoadedUnit(identity, sourceTag, append([]byte(nil), object...), code)

	_, err = im.worker.Do(ctx, func() (interface{}, error) {
		if im.protected[identity] {
			return nil, fmt.Errorf("%w: %s", ErrProtected, identity)
		}
		_, replaced := im.units[identity]
		im.units[identity] = lu
		if replaced {
			log.Infof("replaced %s (%d functions)", identity, len(lu.funcs))
		} else {
			log.Infof("installed %s (%d functions)", identity, len(lu.funcs))
		}
		return nil, nil
	})
	if errors.Is(err, ErrProtected) {
		log.Warningf("rejected install of protected unit %s", identity)
	}
	return err
}

// Preload reads and decodes object files concurrently, then installs
// each under the identity recorded in the object, in path order. When two
// paths carry the same identity the later one stays installed. It returns
// the installed identities in path order.
func (im *Image) Preload(ctx context.Context, paths ...string) ([]string, error) {
	objects := make([]*objcode.Object, len(paths))
	data := make([][]byte, len(paths))
	var g errgroup.Group
	g.SetLimit(8)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("preload: %w", err)
			}
			obj, err := objcode.Decode(raw)
			if err != nil {
				return fmt.Errorf("preload %s: %w", path, err)
			}
			objects[i], data[i] = obj, raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	identities := make([]string, len(paths))
	for i, obj := range objects {
		if err := im.Install(ctx, obj.Identity, obj.SourceTag(), data[i]); err != nil {
			return nil, fmt.Errorf("preload %s: %w", paths[i], err)
		}
		identities[i] = obj.Identity
	}
	return identities, nil
}

// Protect marks identity as protected: later installs and purges fail.
// The unit does not need to be loaded.
func (im *Image) Protect(identity string) {
	_, _ = im.worker.Do(context.Background(), func() (interface{}, error) {
		im.protected[identity] = true
		return nil, nil
	})
}

// Purge removes identity from the image.
func (im *Image) Purge(ctx context.Context, identity string) error {
	_, err := im.worker.Do(ctx, func() (interface{}, error) {
		if im.protected[identity] {
			return nil, fmt.Errorf("%w: %s", ErrProtected, identity)
		}
		if _, ok := im.units[identity]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotLoaded, identity)
		}
		delete(im.units, identity)
		log.Infof("purged %s", identity)
		return nil, nil
	})
	return err
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// ObjectCode returns the object bytes currently installed for identity.
func (im *Image) ObjectCode(ctx context.Context, identity string) ([]byte, error) {
	v, err := im.worker.Do(ctx, func() (interface{}, error) {
		lu, ok := im.units[identity]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotLoaded, identity)
		}
		return lu.object, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v.([]byte)...), nil
}

// Loaded reports whether identity is installed.
func (im *Image) Loaded(identity string) bool {
	_, ok := im.Exports(identity)
	return ok
}

// Exports returns the export list of a loaded unit.
func (im *Image) Exports(identity string) ([]ir.Signature, bool) {
	v, err := im.worker.Do(context.Background(), func() (interface{}, error) {
		lu, ok := im.units[identity]
		if !ok {
			return nil, ErrNotLoaded
		}
		return append([]ir.Signature(nil), lu.exports...), nil
	})
	if err != nil {
		return nil, false
	}
	return v.([]ir.Signature), true
}

// Units lists the loaded units sorted by identity.
func (im *Image) Units(ctx context.Context) ([]UnitInfo, error) {
	v, err := im.worker.Do(ctx, func() (interface{}, error) {
		out := make([]UnitInfo, 0, len(im.units))
		for id, lu := range im.units {
			out = append(out, UnitInfo{
				Identity:  id,
				SourceTag: lu.sourceTag,
				Exports:   append([]ir.Signature(nil), lu.exports...),
				Protected: im.protected[id],
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	out := v.([]UnitInfo)
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call invokes an exported function of a loaded unit.
func (im *Image) Call(ctx context.Context, identity, name string, args ...Value) (Value, error) {
	v, err := im.worker.Do(ctx, func() (interface{}, error) {
		ev := &evaluator{im: im, max: im.maxDepth}
		return ev.callExported(identity, ir.Signature{Name: name, Arity: len(args)}, args)
	})
	if err != nil {
		return Value{}, err
	}
	return v.(Value), nil
}

// lookupExported finds an exported function. Runs on the worker.
func (im *Image) lookupExported(identity string, sig ir.Signature) (*loadedUnit, *ir.Function, error) {
	lu, ok := im.units[identity]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotLoaded, identity)
	}
	fn, ok := lu.funcs[sig]
	if !ok || !lu.exported[sig] {
		return nil, nil, &UndefinedFunctionError{Unit: identity, Signature: sig}
	}
	return lu, fn, nil
}

// UndefinedFunctionError is returned when calling a function that is not
// exported by its unit.
type UndefinedFunctionError struct {
	Unit      string
	Signature ir.Signature
}

func (e *UndefinedFunctionError) Error() string {
	return fmt.Sprintf("undefined function %s.%s", e.Unit, e.Signature)
}
