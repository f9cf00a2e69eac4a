package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/config"
	"github.com/wippyai/vbridge/descriptor"
	"github.com/wippyai/vbridge/jsbind"
	"github.com/wippyai/vbridge/luabind"
	"github.com/wippyai/vbridge/variant"
	"github.com/wippyai/vbridge/wasmbind"
)

// globalName is the name records are bound to in scripts.
const globalName = "variant"

// runner runs one script against record handles.
type runner interface {
	Run(ctx context.Context, ref *bridge.Ref, script string) (string, error)
	Close()
}

func newRunner(ctx context.Context, engine string, reg *bridge.Registry, module string) (runner, error) {
	switch engine {
	case config.EngineLua:
		s, err := luabind.New(reg)
		if err != nil {
			return nil, err
		}
		return &luaRunner{s: s, reg: reg}, nil
	case config.EngineJS:
		rt, err := jsbind.New(reg)
		if err != nil {
			return nil, err
		}
		return &jsRunner{rt: rt, reg: reg}, nil
	case config.EngineWasm:
		return newWasmRunner(ctx, reg, module)
	}
	return nil, fmt.Errorf("unknown engine %q", engine)
}

type luaRunner struct {
	s   *luabind.State
	reg *bridge.Registry
}

func (r *luaRunner) Run(ctx context.Context, ref *bridge.Ref, script string) (string, error) {
	out, err := r.s.Run(ctx, globalName, ref, script)
	if err != nil {
		return "", err
	}
	return format(ctx, r.reg, out...), nil
}

func (r *luaRunner) Close() { r.s.Close() }

type jsRunner struct {
	rt  *jsbind.Runtime
	reg *bridge.Registry
}

func (r *jsRunner) Run(ctx context.Context, ref *bridge.Ref, script string) (string, error) {
	v, err := r.rt.Run(ctx, globalName, ref, script)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return format(ctx, r.reg, v), nil
}

func (r *jsRunner) Close() {}

// wasmRunner calls a guest export per record; the script is the export
// name.
type wasmRunner struct {
	rt   wazero.Runtime
	host *wasmbind.Host
	mod  api.Module
}

func newWasmRunner(ctx context.Context, reg *bridge.Registry, path string) (*wasmRunner, error) {
	if path == "" {
		return nil, fmt.Errorf("engine wasm needs -module")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	host, err := wasmbind.New(reg)
	if err != nil {
		return nil, err
	}
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := host.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	mod, err := rt.Instantiate(ctx, data)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate %s: %w", path, err)
	}
	return &wasmRunner{rt: rt, host: host, mod: mod}, nil
}

func (r *wasmRunner) Run(ctx context.Context, ref *bridge.Ref, export string) (string, error) {
	status, err := r.host.Call(ctx, r.mod, export, ref)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(int(status)), nil
}

func (r *wasmRunner) Close() {
	r.host.Close()
	r.rt.Close(context.Background())
}

// format renders script results tab-separated. Handle results are
// rendered with their type's stringer and released.
func format(ctx context.Context, reg *bridge.Registry, vals ...any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		ref, ok := v.(*bridge.Ref)
		if !ok {
			parts[i] = descriptor.Format(v)
			continue
		}
		s, err := reg.String(ctx, ref.ID())
		if err != nil {
			s = "<" + err.Error() + ">"
		}
		parts[i] = s
		ref.Release()
	}
	return strings.Join(parts, "\t")
}

// runRecord wraps rec for one script run, scoped to the run unless mode
// is OwnedShared.
func runRecord(ctx context.Context, reg *bridge.Registry, mode bridge.Mode, r runner, rec *variant.Record, script string) (string, error) {
	if mode == bridge.OwnedShared {
		ref, err := reg.Wrap(variant.TagRecord, rec, bridge.OwnedShared)
		if err != nil {
			return "", err
		}
		defer ref.Release()
		return r.Run(ctx, ref, script)
	}

	var out string
	err := reg.WithScope(func(s *bridge.Scope) error {
		ref, err := s.Wrap(variant.TagRecord, rec)
		if err != nil {
			return err
		}
		defer ref.Release()
		out, err = r.Run(ctx, ref, script)
		return err
	})
	return out, err
}
