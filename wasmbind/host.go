package wasmbind

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/errors"
	"github.com/wippyai/vbridge/resource"
)

// ModuleName is the import module name guests link against.
const ModuleName = "bridge"

// IndexBase is the script index base of wasm guests.
const IndexBase = 0

// Host serves the bridge host module for one registry. Handles a guest
// receives from get, index or invoke belong to the guest until it calls
// drop; the handle passed to Call stays with the caller.
type Host struct {
	reg *bridge.Registry
	log *zap.Logger

	mu      sync.Mutex
	owned   map[resource.Handle]*bridge.Ref
	lastErr *errors.Error
	pending *string
}

// New creates a host bound to reg.
func New(reg *bridge.Registry) (*Host, error) {
	if reg.IndexBase() != IndexBase {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("wasm needs index base %d, registry uses %d", IndexBase, reg.IndexBase()).Build()
	}
	return &Host{
		reg:   reg,
		log:   Logger(),
		owned: make(map[resource.Handle]*bridge.Ref),
	}, nil
}

// Registry returns the registry the host dispatches to.
func (h *Host) Registry() *bridge.Registry {
	return h.reg
}

// Instantiate defines the bridge module in r.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(ModuleName)
	for _, f := range h.funcs() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(f.fn, f.paramTypes(), f.resultTypes()).
			Export(f.name)
	}
	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindRegistration, err, "instantiating host module "+ModuleName)
	}
	return mod, nil
}

// Call runs the guest export with ref's handle as its only argument. A
// negative guest result is reported as the last bridge error when one is
// recorded.
func (h *Host) Call(ctx context.Context, mod api.Module, export string, ref *bridge.Ref) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Cancelled(err)
	}
	fn := mod.ExportedFunction(export)
	if fn == nil {
		return 0, errors.NotFound(errors.PhaseLookup, "export", export)
	}
	h.setError(nil)
	res, err := fn.Call(ctx, api.EncodeU32(uint32(ref.ID())))
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return 0, errors.Cancelled(cerr)
		}
		h.log.Debug("guest trapped", zap.String("export", export), zap.Error(err))
		return 0, errors.Wrap(errors.PhaseScript, errors.KindScript, err, "wasm trap in "+export)
	}
	if len(res) == 0 {
		return 0, nil
	}
	status := api.DecodeI32(res[0])
	if status < 0 {
		if e := h.LastError(); e != nil {
			return status, e
		}
	}
	return status, nil
}

// LastError returns the error behind the most recent failed bridge call.
func (h *Host) LastError() *errors.Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Owned reports how many handles the guest holds and has not dropped.
func (h *Host) Owned() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.owned)
}

// Close releases every handle the guest still holds.
func (h *Host) Close() {
	h.mu.Lock()
	owned := h.owned
	h.owned = make(map[resource.Handle]*bridge.Ref)
	h.mu.Unlock()

	if len(owned) > 0 {
		h.log.Warn("guest leaked handles", zap.Int("count", len(owned)))
	}
	for _, ref := range owned {
		ref.Release()
	}
}

// Signatures lists the imports of the bridge module in WIT syntax.
func Signatures() []string {
	funcs := new(Host).funcs()
	out := make([]string, len(funcs))
	for i, f := range funcs {
		out[i] = f.signature()
	}
	return out
}

func (h *Host) setError(err *errors.Error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

// fail records err and returns its status code.
func (h *Host) fail(err error) uint64 {
	e, ok := errors.As(err)
	if !ok {
		e = errors.Wrap(errors.PhaseExecute, errors.KindScript, err, err.Error())
	}
	h.setError(e)
	h.log.Debug("bridge call failed", zap.String("kind", string(e.Kind)), zap.Error(e))
	return api.EncodeI32(Status(e.Kind))
}

func success(n int32) uint64 {
	return api.EncodeI32(n)
}

func handleArg(v uint64) resource.Handle {
	return resource.Handle(api.DecodeU32(v))
}

func readString(mod api.Module, ptr, n uint32) (string, error) {
	mem := mod.Memory()
	if mem == nil {
		return "", memoryFault(ptr, n)
	}
	b, ok := mem.Read(ptr, n)
	if !ok {
		return "", memoryFault(ptr, n)
	}
	return string(b), nil
}

// writeSlot stores v at out. Handle results become guest-owned; string
// results are parked for take_str.
func (h *Host) writeSlot(mod api.Module, out uint32, v any) error {
	mem := mod.Memory()
	if mem == nil {
		return memoryFault(out, SlotSize)
	}
	var tag, aux uint32
	var payload uint64
	switch x := v.(type) {
	case nil:
		tag = SlotNil
	case bool:
		tag = SlotBool
		if x {
			payload = 1
		}
	case int64:
		tag, payload = SlotInt, uint64(x)
	case float64:
		tag, payload = SlotFloat, api.EncodeF64(x)
	case string:
		tag, aux = SlotString, uint32(len(x))
		h.park(x)
	case *bridge.Ref:
		tag, payload = SlotHandle, uint64(x.ID())
		h.adopt(x)
	default:
		return errors.TypeMismatch(errors.PhaseConvert, "", "scalar or handle", v)
	}
	if !mem.WriteUint32Le(out, tag) || !mem.WriteUint32Le(out+4, aux) || !mem.WriteUint64Le(out+8, payload) {
		if ref, isRef := v.(*bridge.Ref); isRef {
			h.drop(ref.ID())
		}
		return memoryFault(out, SlotSize)
	}
	return nil
}

func (h *Host) park(s string) {
	h.mu.Lock()
	h.pending = &s
	h.mu.Unlock()
}

func (h *Host) adopt(ref *bridge.Ref) {
	h.mu.Lock()
	h.owned[ref.ID()] = ref
	h.mu.Unlock()
}

func (h *Host) drop(id resource.Handle) bool {
	h.mu.Lock()
	ref, ok := h.owned[id]
	delete(h.owned, id)
	h.mu.Unlock()
	if ok {
		ref.Release()
	}
	return ok
}

// store writes a result slot and returns the call status.
func (h *Host) store(mod api.Module, out uint32, v any, err error) uint64 {
	if err != nil {
		return h.fail(err)
	}
	if err := h.writeSlot(mod, out, v); err != nil {
		return h.fail(err)
	}
	return success(0)
}

func (h *Host) setter(name string, value param, decode func(mod api.Module, stack []uint64) (any, error)) hostFunc {
	params := []param{{"handle", wit.U32{}}, {"name", wit.String{}}}
	if value.typ != nil {
		params = append(params, value)
	}
	return hostFunc{
		name:   name,
		params: params,
		result: wit.S32{},
		fn: func(ctx context.Context, mod api.Module, stack []uint64) {
			field, err := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			if err != nil {
				stack[0] = h.fail(err)
				return
			}
			v, err := decode(mod, stack[3:])
			if err == nil {
				err = h.reg.Set(ctx, handleArg(stack[0]), field, v)
			}
			if err != nil {
				stack[0] = h.fail(err)
				return
			}
			stack[0] = success(0)
		},
	}
}

func (h *Host) indexSetter(name string, value param, decode func(mod api.Module, stack []uint64) (any, error)) hostFunc {
	return hostFunc{
		name:   name,
		params: []param{{"handle", wit.U32{}}, {"index", wit.U32{}}, value},
		result: wit.S32{},
		fn: func(ctx context.Context, mod api.Module, stack []uint64) {
			v, err := decode(mod, stack[2:])
			if err == nil {
				err = h.reg.SetIndex(ctx, handleArg(stack[0]), int(api.DecodeU32(stack[1])), v)
			}
			if err != nil {
				stack[0] = h.fail(err)
				return
			}
			stack[0] = success(0)
		},
	}
}

func decodeI64(_ api.Module, s []uint64) (any, error) { return int64(s[0]), nil }

func decodeF64(_ api.Module, s []uint64) (any, error) { return api.DecodeF64(s[0]), nil }

func decodeBool(_ api.Module, s []uint64) (any, error) { return api.DecodeU32(s[0]) != 0, nil }

func decodeString(mod api.Module, s []uint64) (any, error) {
	return readString(mod, api.DecodeU32(s[0]), api.DecodeU32(s[1]))
}

func decodeNil(api.Module, []uint64) (any, error) { return nil, nil }

// copyOut writes s into the guest buffer at ptr when it fits in size bytes.
func copyOut(mod api.Module, ptr, size uint32, s string) error {
	if uint32(len(s)) > size {
		return errors.New(errors.PhaseConvert, errors.KindOutOfBounds).
			Detail("buffer of %d bytes, need %d", size, len(s)).Build()
	}
	mem := mod.Memory()
	if mem == nil || !mem.Write(ptr, []byte(s)) {
		return memoryFault(ptr, uint32(len(s)))
	}
	return nil
}

func (h *Host) funcs() []hostFunc {
	handle := param{"handle", wit.U32{}}
	out := param{"out", wit.U32{}}
	return []hostFunc{
		{
			name:   "get",
			params: []param{handle, {"name", wit.String{}}, out},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				field, err := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
				if err != nil {
					stack[0] = h.fail(err)
					return
				}
				v, err := h.reg.Get(ctx, handleArg(stack[0]), field)
				stack[0] = h.store(mod, api.DecodeU32(stack[3]), v, err)
			},
		},
		h.setter("set_i64", param{"value", wit.S64{}}, decodeI64),
		h.setter("set_f64", param{"value", wit.F64{}}, decodeF64),
		h.setter("set_bool", param{"value", wit.Bool{}}, decodeBool),
		h.setter("set_str", param{"value", wit.String{}}, decodeString),
		h.setter("set_nil", param{}, decodeNil),
		{
			name:   "index",
			params: []param{handle, {"index", wit.U32{}}, out},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				v, err := h.reg.Index(ctx, handleArg(stack[0]), int(api.DecodeU32(stack[1])))
				stack[0] = h.store(mod, api.DecodeU32(stack[2]), v, err)
			},
		},
		h.indexSetter("set_index_i64", param{"value", wit.S64{}}, decodeI64),
		h.indexSetter("set_index_str", param{"value", wit.String{}}, decodeString),
		{
			name:   "len",
			params: []param{handle},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				n, err := h.reg.Len(ctx, handleArg(stack[0]))
				if err != nil {
					stack[0] = h.fail(err)
					return
				}
				stack[0] = success(int32(n))
			},
		},
		{
			name:   "invoke",
			params: []param{handle, {"name", wit.String{}}, out},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				method, err := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
				if err != nil {
					stack[0] = h.fail(err)
					return
				}
				v, err := h.reg.Invoke(ctx, handleArg(stack[0]), method, nil)
				stack[0] = h.store(mod, api.DecodeU32(stack[3]), v, err)
			},
		},
		{
			name:   "invoke_str",
			params: []param{handle, {"name", wit.String{}}, {"arg", wit.String{}}, out},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				method, err := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
				if err != nil {
					stack[0] = h.fail(err)
					return
				}
				arg, err := readString(mod, api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
				if err != nil {
					stack[0] = h.fail(err)
					return
				}
				v, err := h.reg.Invoke(ctx, handleArg(stack[0]), method, []any{arg})
				stack[0] = h.store(mod, api.DecodeU32(stack[5]), v, err)
			},
		},
		{
			name:   "tostring",
			params: []param{handle},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s, err := h.reg.String(ctx, handleArg(stack[0]))
				if err != nil {
					stack[0] = h.fail(err)
					return
				}
				h.park(s)
				stack[0] = success(int32(len(s)))
			},
		},
		{
			name:   "take_str",
			params: []param{{"buf", wit.U32{}}, {"cap", wit.U32{}}},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				h.mu.Lock()
				s := h.pending
				h.mu.Unlock()
				if s == nil {
					stack[0] = h.fail(errors.NotFound(errors.PhaseConvert, "string", "pending"))
					return
				}
				if err := copyOut(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), *s); err != nil {
					stack[0] = h.fail(err)
					return
				}
				h.mu.Lock()
				if h.pending == s {
					h.pending = nil
				}
				h.mu.Unlock()
				stack[0] = success(int32(len(*s)))
			},
		},
		{
			name:   "drop",
			params: []param{handle},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				id := handleArg(stack[0])
				if !h.drop(id) {
					stack[0] = h.fail(errors.InvalidInput(errors.PhaseRelease, "handle is not owned by the guest"))
					return
				}
				stack[0] = success(0)
			},
		},
		{
			name:   "last_error",
			params: []param{{"buf", wit.U32{}}, {"cap", wit.U32{}}},
			result: wit.S32{},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				e := h.LastError()
				if e == nil {
					stack[0] = success(0)
					return
				}
				msg := e.Error()
				ptr, size := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
				if mem := mod.Memory(); mem == nil || !mem.Write(ptr, []byte(truncate(msg, size))) {
					stack[0] = api.EncodeI32(Status(errors.KindOutOfBounds))
					return
				}
				stack[0] = success(int32(len(e.Error())))
			},
		},
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n uint32) string {
	if uint32(len(s)) <= n {
		return s
	}
	i := int(n)
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}
