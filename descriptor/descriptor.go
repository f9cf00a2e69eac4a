package descriptor

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/wippyai/vbridge/errors"
)

// Kind is the value kind of a field.
type Kind uint8

const (
	KindScalar Kind = iota // integer, float, string or boolean
	KindChild              // opaque child handle
	KindBuffer             // child handle with length and indexed access
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindChild:
		return "child"
	case KindBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// ValueType names the script-visible type of a scalar value.
type ValueType uint8

const (
	TypeAny ValueType = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
	TypeHandle
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeHandle:
		return "handle"
	default:
		return "any"
	}
}

// Context is the execution context handed to accessors for one dispatch.
type Context interface {
	// Context returns the context of the call that reached the accessor.
	Context() context.Context

	// Resolve returns the live host reference behind a handle passed as an
	// argument, within the locks already held by this call.
	Resolve(handle any) (target any, tag string, err error)
}

// Getter reads a value from a resolved host reference. It returns a scalar,
// a Child or a Snapshot.
type Getter func(c Context, target any) (any, error)

// Setter validates value and writes it to a resolved host reference.
type Setter func(c Context, target any, value any) error

// MethodFunc implements a script-callable method.
type MethodFunc func(c Context, target any, args []any) (any, error)

// Projector maps a resolved parent reference to the child it views. It runs
// on every access through the child handle.
type Projector func(parent any) (any, error)

// Child is returned by a getter to have the dispatcher wrap a child view of
// the resolving handle.
type Child struct {
	Tag     string
	Key     string
	Project Projector
}

// Snapshot is returned by a cloning getter. Value becomes an independent
// owned root of type Tag.
type Snapshot struct {
	Tag   string
	Value any
}

// Field describes one script-visible property.
type Field struct {
	Get      Getter
	Set      Setter
	Name     string
	Doc      string
	Child    string // type tag of the child, for KindChild and KindBuffer
	Kind     Kind
	Type     ValueType
	Fallible bool
}

// Method describes one script-callable method.
type Method struct {
	Call MethodFunc
	Name string
	Doc  string
}

// Indexer occupies the reserved index/length slot. Indices are 0-based;
// the dispatcher converts from the runtime's script base.
type Indexer struct {
	Len  func(c Context, target any) (int, error)
	Get  func(c Context, target any, i int) (any, error)
	Set  func(c Context, target any, i int, value any) error
	Elem ValueType
}

// Dynamic resolves names that have no registered field, for map-like
// types whose keys are data. A Get returning (nil, nil) reads as a missing
// key, not an error.
type Dynamic struct {
	Get  func(c Context, target any, name string) (any, error)
	Set  func(c Context, target any, name string, value any) error
	Keys func(c Context, target any) ([]string, error)
}

// Table is the per-type map of exposed names to accessors.
type Table struct {
	fields  map[string]*Field
	methods map[string]*Method
	index   *Indexer
	dynamic *Dynamic
	str     func(target any) (string, error)
	tag     string
	sealed  atomic.Bool
}

// New creates an empty table for the type tag.
func New(tag string) *Table {
	return &Table{
		tag:     tag,
		fields:  make(map[string]*Field),
		methods: make(map[string]*Method),
	}
}

// Tag returns the type tag the table describes.
func (t *Table) Tag() string {
	return t.tag
}

// Seal freezes the table. The registry seals a table when it is registered.
func (t *Table) Seal() {
	t.sealed.Store(true)
}

func (t *Table) checkName(name string) error {
	if t.sealed.Load() {
		return errors.Registration(t.tag, "table is sealed")
	}
	if name == "" {
		return errors.Registration(t.tag, "empty field name")
	}
	if _, ok := t.fields[name]; ok {
		return errors.New(errors.PhaseRegister, errors.KindRegistration).
			Type(t.tag).Field(name).Detail("duplicate name").Build()
	}
	if _, ok := t.methods[name]; ok {
		return errors.New(errors.PhaseRegister, errors.KindRegistration).
			Type(t.tag).Field(name).Detail("duplicate name").Build()
	}
	return nil
}

// Register adds a scalar field. set may be nil for read-only fields.
func (t *Table) Register(name string, get Getter, set Setter) error {
	return t.Add(Field{Name: name, Kind: KindScalar, Get: get, Set: set})
}

// Add adds a fully specified field.
func (t *Table) Add(f Field) error {
	if err := t.checkName(f.Name); err != nil {
		return err
	}
	if f.Get == nil {
		return errors.New(errors.PhaseRegister, errors.KindRegistration).
			Type(t.tag).Field(f.Name).Detail("field has no getter").Build()
	}
	if (f.Kind == KindChild || f.Kind == KindBuffer) && f.Child == "" {
		return errors.New(errors.PhaseRegister, errors.KindRegistration).
			Type(t.tag).Field(f.Name).Detail("%s field has no child type", f.Kind).Build()
	}
	field := f
	t.fields[f.Name] = &field
	return nil
}

// Child adds a field exposing a child view of type childTag.
func (t *Table) Child(name, childTag string, project Projector) error {
	return t.Add(Field{
		Name:  name,
		Kind:  KindChild,
		Type:  TypeHandle,
		Child: childTag,
		Get:   childGetter(childTag, name, project),
	})
}

// Buffer adds a field exposing an indexable child view of type childTag.
func (t *Table) Buffer(name, childTag string, project Projector) error {
	return t.Add(Field{
		Name:  name,
		Kind:  KindBuffer,
		Type:  TypeHandle,
		Child: childTag,
		Get:   childGetter(childTag, name, project),
	})
}

func childGetter(tag, key string, project Projector) Getter {
	return func(Context, any) (any, error) {
		return Child{Tag: tag, Key: key, Project: project}, nil
	}
}

// Method adds a script-callable method.
func (t *Table) Method(name string, fn MethodFunc) error {
	if err := t.checkName(name); err != nil {
		return err
	}
	if fn == nil {
		return errors.New(errors.PhaseRegister, errors.KindRegistration).
			Type(t.tag).Field(name).Detail("method has no implementation").Build()
	}
	t.methods[name] = &Method{Name: name, Call: fn}
	return nil
}

// Indexer fills the reserved index/length slot.
func (t *Table) Indexer(ix Indexer) error {
	if t.sealed.Load() {
		return errors.Registration(t.tag, "table is sealed")
	}
	if t.index != nil {
		return errors.Registration(t.tag, "indexer already registered")
	}
	if ix.Len == nil || ix.Get == nil {
		return errors.Registration(t.tag, "indexer needs Len and Get")
	}
	t.index = &ix
	return nil
}

// Dynamic sets the fallback for names without a registered field.
func (t *Table) Dynamic(d Dynamic) error {
	if t.sealed.Load() {
		return errors.Registration(t.tag, "table is sealed")
	}
	if t.dynamic != nil {
		return errors.Registration(t.tag, "dynamic accessor already registered")
	}
	if d.Get == nil {
		return errors.Registration(t.tag, "dynamic accessor needs Get")
	}
	t.dynamic = &d
	return nil
}

// Fallback returns the dynamic accessor, or nil.
func (t *Table) Fallback() *Dynamic {
	return t.dynamic
}

// Stringer sets the function used for the script-side string conversion.
func (t *Table) Stringer(fn func(target any) (string, error)) {
	if !t.sealed.Load() {
		t.str = fn
	}
}

// Lookup returns the field registered under name.
func (t *Table) Lookup(name string) (*Field, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// LookupMethod returns the method registered under name.
func (t *Table) LookupMethod(name string) (*Method, bool) {
	m, ok := t.methods[name]
	return m, ok
}

// Index returns the indexer, or nil.
func (t *Table) Index() *Indexer {
	return t.index
}

// String returns the string conversion, or nil.
func (t *Table) String() func(target any) (string, error) {
	return t.str
}

// Fields returns the fields sorted by name.
func (t *Table) Fields() []*Field {
	out := make([]*Field, 0, len(t.fields))
	for _, f := range t.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Methods returns the methods sorted by name.
func (t *Table) Methods() []*Method {
	out := make([]*Method, 0, len(t.methods))
	for _, m := range t.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every field and method name, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.fields)+len(t.methods))
	for name := range t.fields {
		names = append(names, name)
	}
	for name := range t.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
