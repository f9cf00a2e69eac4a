package variant

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wippyai/vbridge/errors"
)

var (
	infoKeyPattern = regexp.MustCompile(`^[A-Za-z_][0-9A-Za-z_.]*$`)
	contigPattern  = regexp.MustCompile(`^[0-9A-Za-z!#$%&+./:;?@^_|~-][0-9A-Za-z!#$%&*+./:;=?@^_|~-]*$`)
)

// Info is the ordered key to value mapping of a record. Each key holds an
// int64, float64, string or bool (a flag); the type may change on every
// write.
type Info struct {
	values map[string]any
	keys   []string
}

func newInfo() *Info {
	return &Info{values: make(map[string]any)}
}

// ValidKey reports whether key is a legal Info key.
func ValidKey(key string) bool {
	return infoKeyPattern.MatchString(key)
}

// Get returns the value stored under key.
func (in *Info) Get(key string) (any, bool) {
	v, ok := in.values[key]
	return v, ok
}

// Set stores value under key. A nil value deletes the key.
func (in *Info) Set(key string, value any) error {
	if !ValidKey(key) {
		return errors.InvalidKey(errors.PhaseHost, "info key", key)
	}
	switch v := value.(type) {
	case nil:
		in.Delete(key)
		return nil
	case int:
		value = int64(v)
	case int32:
		value = int64(v)
	case float32:
		value = float64(v)
	case int64, float64, string, bool:
	default:
		return errors.TypeMismatch(errors.PhaseHost, key, "int, float, string or flag", value)
	}
	if s, ok := value.(string); ok && strings.ContainsAny(s, ";\t\n") {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Field(key).Value(s).Detail("info value contains a separator").Build()
	}
	if _, ok := in.values[key]; !ok {
		in.keys = append(in.keys, key)
	}
	in.values[key] = value
	return nil
}

// Delete removes key. It reports whether the key was present.
func (in *Info) Delete(key string) bool {
	if _, ok := in.values[key]; !ok {
		return false
	}
	delete(in.values, key)
	for i, k := range in.keys {
		if k == key {
			in.keys = append(in.keys[:i], in.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the keys in insertion order.
func (in *Info) Keys() []string {
	return append([]string(nil), in.keys...)
}

func (in *Info) Len() int { return len(in.keys) }

// Merge copies every entry of other into in. Existing keys are
// overwritten; new keys keep other's order.
func (in *Info) Merge(other *Info) {
	if in == other {
		return
	}
	for _, k := range other.keys {
		v := other.values[k]
		if _, ok := in.values[k]; !ok {
			in.keys = append(in.keys, k)
		}
		in.values[k] = v
	}
}

func (in *Info) clone() *Info {
	cp := &Info{
		values: make(map[string]any, len(in.values)),
		keys:   append([]string(nil), in.keys...),
	}
	for k, v := range in.values {
		cp.values[k] = v
	}
	return cp
}

// String renders the VCF INFO column.
func (in *Info) String() string {
	if len(in.keys) == 0 {
		return "."
	}
	var b strings.Builder
	for _, k := range in.keys {
		v := in.values[k]
		if flag, ok := v.(bool); ok && !flag {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		if _, ok := v.(bool); !ok {
			b.WriteByte('=')
			b.WriteString(formatValue(v))
		}
	}
	if b.Len() == 0 {
		return "."
	}
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// parseInfoValue types an INFO value the way the reader stores it.
func parseInfoValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
