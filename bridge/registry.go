package bridge

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/wippyai/vbridge"
	"github.com/wippyai/vbridge/descriptor"
	"github.com/wippyai/vbridge/errors"
	"github.com/wippyai/vbridge/resource"
)

// PressureFunc is called when the external memory retained by owned roots
// crosses the configured threshold upward.
type PressureFunc func(total int64)

// CollectGarbage is a PressureFunc that forces a collection, so finalizers
// of unreachable script wrappers release their cells.
func CollectGarbage(total int64) {
	Logger().Debug("external memory pressure", zap.Int64("bytes", total))
	runtime.GC()
}

type options struct {
	logger        *zap.Logger
	meterProvider metric.MeterProvider
	pressure      PressureFunc
	lockTimeout   time.Duration
	threshold     int64
	indexBase     int
}

// Option configures a Registry.
type Option func(*options)

// WithLogger sets the registry's logger. Defaults to the package Logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMeterProvider sets the meter provider for registry metrics. Defaults
// to the global otel provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithLockTimeout bounds how long a call waits for a shared cell's lock.
// A call that waits longer fails with a busy error. Zero waits forever.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithIndexBase sets the script-side index base: 1 for Lua, 0 for JS and
// WebAssembly.
func WithIndexBase(base int) Option {
	return func(o *options) { o.indexBase = base }
}

// WithPressure reports external memory pressure to fn whenever the volume
// retained by owned roots rises above threshold bytes.
func WithPressure(threshold int64, fn PressureFunc) Option {
	return func(o *options) {
		o.threshold = threshold
		o.pressure = fn
	}
}

// Registry binds descriptor tables to type tags and owns the cell table for
// one runtime instance. Every handle a runtime holds is a cell in the
// registry's table.
type Registry struct {
	cells    *resource.Typed[*Handle]
	tables   map[string]*descriptor.Table
	typeIDs  map[string]uint32
	metrics  *metrics
	log      *zap.Logger
	opts     options
	mu       sync.RWMutex
	extBytes atomic.Int64
	closed   atomic.Bool
}

// New creates a registry.
func New(opts ...Option) *Registry {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = Logger()
	}

	m, err := newMetrics(o.meterProvider)
	if err != nil {
		o.logger.Warn("metrics disabled", zap.Error(err))
		m, _ = newMetrics(noop.NewMeterProvider())
	}

	r := &Registry{
		cells:   resource.NewTyped[*Handle](resource.NewTable()),
		tables:  make(map[string]*descriptor.Table),
		typeIDs: make(map[string]uint32),
		metrics: m,
		log:     o.logger,
		opts:    o,
	}
	r.cells.Table().Subscribe(resource.ObserverFunc(r.onCellEvent))
	return r
}

func (r *Registry) onCellEvent(e resource.Event) {
	switch e.Type {
	case resource.EventDropDeferred:
		r.log.Debug("release deferred behind in-flight call", zap.Uint32("cell", uint32(e.Handle)))
	case resource.EventDropped:
		r.log.Debug("cell dropped", zap.Uint32("cell", uint32(e.Handle)), zap.Uint32("type_id", e.TypeID))
	}
}

// IndexBase returns the script-side index base.
func (r *Registry) IndexBase() int {
	return r.opts.indexBase
}

// Log returns the registry's logger.
func (r *Registry) Log() *zap.Logger {
	return r.log
}

// RegisterType binds table to tag and seals it. Registering a tag twice is
// an error.
func (r *Registry) RegisterType(tag string, table *descriptor.Table) error {
	if tag == "" {
		return errors.Registration(tag, "empty type tag")
	}
	if table == nil {
		return errors.Registration(tag, "nil descriptor table")
	}
	if table.Tag() != tag {
		return errors.Registration(tag, "table describes "+table.Tag())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tables[tag]; ok {
		return errors.Registration(tag, "type already registered")
	}
	table.Seal()
	r.tables[tag] = table
	r.typeIDs[tag] = uint32(len(r.typeIDs) + 1)

	r.log.Debug("type registered",
		zap.String("type", tag),
		zap.Int("fields", len(table.Fields())),
		zap.Int("methods", len(table.Methods())),
		zap.Bool("indexed", table.Index() != nil),
	)
	return nil
}

// Table returns the descriptor table registered for tag.
func (r *Registry) Table(tag string) (*descriptor.Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[tag]
	return t, ok
}

// Types returns the registered tables sorted by tag.
func (r *Registry) Types() []*descriptor.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*descriptor.Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag() < out[j].Tag() })
	return out
}

func (r *Registry) lookupType(tag string) (*descriptor.Table, uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[tag]
	if !ok {
		return nil, 0, errors.NotFound(errors.PhaseWrap, "type", tag)
	}
	return t, r.typeIDs[tag], nil
}

// Wrap exposes value to scripts as a handle of type tag.
//
// With OwnedShared, value may be a *Shared, which gains a stake, or any
// other value, which is moved into a new Shared cell owned by the handle.
// BorrowedScoped values are wrapped through a Scope, and ChildReference
// handles are created only by the dispatcher.
func (r *Registry) Wrap(tag string, value any, mode Mode) (*Ref, error) {
	switch mode {
	case OwnedShared:
	case BorrowedScoped:
		return nil, errors.New(errors.PhaseWrap, errors.KindInvalidInput).
			Type(tag).Detail("borrowed values are wrapped through Scope.Wrap").Build()
	default:
		return nil, errors.New(errors.PhaseWrap, errors.KindInvalidInput).
			Type(tag).Detail("cannot wrap a value as %s", mode).Build()
	}

	table, typeID, err := r.lookupType(tag)
	if err != nil {
		return nil, err
	}

	var s *Shared
	if cell, ok := value.(*Shared); ok {
		s = cell.Retain()
	} else {
		s = NewShared(value)
	}
	return r.wrapShared(typeID, table, tag, s)
}

// wrapShared inserts an OwnedShared handle taking over the stake the caller
// holds in s.
func (r *Registry) wrapShared(typeID uint32, table *descriptor.Table, tag string, s *Shared) (*Ref, error) {
	h := &Handle{
		reg:    r,
		table:  table,
		tag:    tag,
		mode:   OwnedShared,
		shared: s,
		size:   vbridge.Size(s.value),
	}
	ref, err := r.insert(typeID, h)
	if err != nil {
		s.Release()
		return nil, err
	}
	if h.size != 0 {
		r.external(h.size)
	}
	return ref, nil
}

// insert allocates a cell for h, which takes the cell's stake.
func (r *Registry) insert(typeID uint32, h *Handle) (*Ref, error) {
	if r.closed.Load() {
		return nil, errors.New(errors.PhaseWrap, errors.KindExpired).
			Type(h.tag).Detail("registry closed").Build()
	}
	h.refs.Store(1)
	id := r.cells.Insert(typeID, h)
	if id == 0 {
		return nil, errors.New(errors.PhaseWrap, errors.KindRegistration).
			Type(h.tag).Detail("cell table closed or full").Build()
	}
	r.metrics.handleCreated(h.tag, h.mode)
	r.log.Debug("handle created",
		zap.Uint32("cell", uint32(id)),
		zap.String("type", h.tag),
		zap.Stringer("mode", h.mode),
	)
	return &Ref{reg: r, id: id}, nil
}

// Handle returns the live handle behind a cell id.
func (r *Registry) Handle(id resource.Handle) (*Handle, error) {
	h, err := r.cells.Lookup(id)
	if err != nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindExpired).
			Detail("cell %d: %v", uint32(id), err).Cause(err).Build()
	}
	return h, nil
}

// Release removes the cell id and drops its handle's stake. If a call is
// using the cell, the release completes when the call ends. Releasing an
// unknown or already released id fails with an expired error.
func (r *Registry) Release(id resource.Handle) error {
	if _, ok := r.cells.Remove(id); ok {
		return nil
	}
	if r.cells.Table().Pending(id) {
		return nil
	}
	return errors.New(errors.PhaseRelease, errors.KindExpired).
		Detail("cell %d already released", uint32(id)).Build()
}

// Live returns the number of live cells.
func (r *Registry) Live() int {
	return r.cells.Len()
}

// ExternalBytes returns the host memory retained by live owned roots.
func (r *Registry) ExternalBytes() int64 {
	return r.extBytes.Load()
}

func (r *Registry) external(delta int64) {
	total := r.extBytes.Add(delta)
	r.metrics.externalDelta(delta)
	if delta > 0 && r.opts.pressure != nil && total > r.opts.threshold && total-delta <= r.opts.threshold {
		r.opts.pressure(total)
	}
}

// Close releases every live cell. The registry accepts no new handles
// afterwards.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	n := r.cells.Len()
	err := r.cells.Table().Close()
	r.log.Debug("registry closed", zap.Int("released", n))
	return err
}
