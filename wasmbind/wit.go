package wasmbind

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/vbridge/descriptor"
)

// Slot tags of a value written to an out pointer. They follow the case
// order of ValueType.
const (
	SlotNil uint32 = iota
	SlotBool
	SlotInt
	SlotFloat
	SlotString
	SlotHandle
)

// SlotSize is the size of a value slot: tag u32, aux u32, payload u64.
// Aux holds the byte length of a string value.
const SlotSize = 16

func name(s string) *string { return &s }

// ValueType is the WIT shape of a value slot.
var ValueType = &wit.TypeDef{
	Name: name("value"),
	Kind: &wit.Variant{Cases: []wit.Case{
		{Name: "nil"},
		{Name: "bool", Type: wit.Bool{}},
		{Name: "int", Type: wit.S64{}},
		{Name: "float", Type: wit.F64{}},
		{Name: "string", Type: wit.String{}},
		{Name: "handle", Type: wit.U32{}},
	}},
}

// WitType maps a descriptor value type to the WIT type a guest sees.
func WitType(t descriptor.ValueType) wit.Type {
	switch t {
	case descriptor.TypeInt:
		return wit.S64{}
	case descriptor.TypeFloat:
		return wit.F64{}
	case descriptor.TypeString:
		return wit.String{}
	case descriptor.TypeBool:
		return wit.Bool{}
	case descriptor.TypeHandle:
		return wit.U32{}
	default:
		return ValueType
	}
}

// TypeName renders t in WIT syntax.
func TypeName(t wit.Type) string {
	switch v := t.(type) {
	case nil:
		return ""
	case wit.Bool:
		return "bool"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.S64:
		return "s64"
	case wit.F64:
		return "f64"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// flatTypes returns the core wasm types a WIT value flattens to.
func flatTypes(t wit.Type) []api.ValueType {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	default:
		return []api.ValueType{api.ValueTypeI32}
	}
}

type param struct {
	name string
	typ  wit.Type
}

// hostFunc is one import of the bridge module. Its core signature is
// derived from the WIT parameter types.
type hostFunc struct {
	fn     api.GoModuleFunc
	name   string
	params []param
	result wit.Type
}

func (f hostFunc) paramTypes() []api.ValueType {
	var vt []api.ValueType
	for _, p := range f.params {
		vt = append(vt, flatTypes(p.typ)...)
	}
	return vt
}

func (f hostFunc) resultTypes() []api.ValueType {
	if f.result == nil {
		return nil
	}
	return flatTypes(f.result)
}

func (f hostFunc) signature() string {
	params := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = p.name + ": " + TypeName(p.typ)
	}
	s := f.name + ": func(" + strings.Join(params, ", ") + ")"
	if f.result != nil {
		s += " -> " + TypeName(f.result)
	}
	return s
}
