package bridge

import (
	"sort"
	"testing"

	"github.com/wippyai/vbridge/descriptor"
)

type box struct {
	attrs map[string]any
	name  string
	items []int64
	n     int64
}

func newBox(n int64, items ...int64) *box {
	return &box{n: n, name: "b", items: items, attrs: map[string]any{}}
}

func boxTables(t testing.TB) []*descriptor.Table {
	t.Helper()

	bt := descriptor.New("box")
	must(t, bt.Register("n",
		func(_ descriptor.Context, v any) (any, error) { return v.(*box).n, nil },
		func(_ descriptor.Context, v any, x any) error {
			n, err := descriptor.Int("n", x)
			if err != nil {
				return err
			}
			v.(*box).n = n
			return nil
		}))
	must(t, bt.Register("name",
		func(_ descriptor.Context, v any) (any, error) { return v.(*box).name, nil },
		func(_ descriptor.Context, v any, x any) error {
			s, err := descriptor.String("name", x)
			if err != nil {
				return err
			}
			v.(*box).name = s
			return nil
		}))
	must(t, bt.Register("size",
		func(_ descriptor.Context, v any) (any, error) { return int64(len(v.(*box).items)), nil }, nil))
	must(t, bt.Buffer("items", "items", func(p any) (any, error) { return p, nil }))
	must(t, bt.Child("attrs", "attrs", func(p any) (any, error) { return p.(*box).attrs, nil }))
	must(t, bt.Method("add", func(c descriptor.Context, v any, args []any) (any, error) {
		other, _, err := c.Resolve(args[0])
		if err != nil {
			return nil, err
		}
		v.(*box).n += other.(*box).n
		return v.(*box).n, nil
	}))
	must(t, bt.Method("clone", func(_ descriptor.Context, v any, _ []any) (any, error) {
		b := v.(*box)
		cp := *b
		cp.items = append([]int64(nil), b.items...)
		return descriptor.Snapshot{Tag: "box", Value: &cp}, nil
	}))
	must(t, bt.Method("inc", func(_ descriptor.Context, v any, _ []any) (any, error) {
		v.(*box).n++
		return nil, nil
	}))
	must(t, bt.Method("release", func(_ descriptor.Context, v any, args []any) (any, error) {
		args[0].(*Ref).Release()
		return v.(*box).n, nil
	}))
	must(t, bt.Method("boom", func(descriptor.Context, any, []any) (any, error) {
		panic("boom")
	}))
	bt.Stringer(func(v any) (string, error) { return "box(" + v.(*box).name + ")", nil })

	it := descriptor.New("items")
	must(t, it.Indexer(descriptor.Indexer{
		Len: func(_ descriptor.Context, v any) (int, error) { return len(v.(*box).items), nil },
		Get: func(_ descriptor.Context, v any, i int) (any, error) { return v.(*box).items[i], nil },
		Set: func(_ descriptor.Context, v any, i int, x any) error {
			n, err := descriptor.Int("items", x)
			if err != nil {
				return err
			}
			v.(*box).items[i] = n
			return nil
		},
		Elem: descriptor.TypeInt,
	}))

	at := descriptor.New("attrs")
	must(t, at.Dynamic(descriptor.Dynamic{
		Get: func(_ descriptor.Context, v any, name string) (any, error) {
			return v.(map[string]any)[name], nil
		},
		Set: func(_ descriptor.Context, v any, name string, x any) error {
			s, err := descriptor.Scalar(name, x)
			if err != nil {
				return err
			}
			v.(map[string]any)[name] = s
			return nil
		},
		Keys: func(_ descriptor.Context, v any) ([]string, error) {
			m := v.(map[string]any)
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return keys, nil
		},
	}))

	return []*descriptor.Table{bt, it, at}
}

func newTestRegistry(t testing.TB, opts ...Option) *Registry {
	t.Helper()
	r := New(opts...)
	for _, tbl := range boxTables(t) {
		if err := r.RegisterType(tbl.Tag(), tbl); err != nil {
			t.Fatalf("RegisterType(%s): %v", tbl.Tag(), err)
		}
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
