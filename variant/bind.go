package variant

import (
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/vbridge/descriptor"
	"github.com/wippyai/vbridge/errors"
)

// Type tags of the script-visible variant types.
const (
	TagRecord    = "record"
	TagInfo      = "info"
	TagGenotypes = "genotypes"
	TagSample    = "sample"
	TagAllele    = "allele"
)

// Registrar accepts descriptor tables. *bridge.Registry implements it.
type Registrar interface {
	RegisterType(tag string, table *descriptor.Table) error
}

// Register binds every variant type to reg.
func Register(reg Registrar) error {
	tables, err := Tables()
	if err != nil {
		return err
	}
	for _, t := range tables {
		if err := reg.RegisterType(t.Tag(), t); err != nil {
			return err
		}
	}
	return nil
}

// Tables builds fresh, unsealed descriptor tables for the variant types.
func Tables() ([]*descriptor.Table, error) {
	builders := []func() (*descriptor.Table, error){
		recordTable,
		infoTable,
		genotypesTable,
		sampleTable,
		alleleTable,
	}
	out := make([]*descriptor.Table, 0, len(builders))
	for _, build := range builders {
		t, err := build()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// sampleView is the target of a sample row handle.
type sampleView struct {
	rec    *Record
	sample int
}

// alleleView is the target of a single call handle.
type alleleView struct {
	rec    *Record
	sample int
	pos    int
}

func (a alleleView) get() (GenotypeAllele, error) {
	return a.rec.gts.Allele(a.sample, a.pos)
}

func recordTable() (*descriptor.Table, error) {
	t := descriptor.New(TagRecord)
	rec := func(v any) *Record { return v.(*Record) }

	fields := []descriptor.Field{
		{
			Name: "id", Type: descriptor.TypeString,
			Get: func(_ descriptor.Context, v any) (any, error) { return rec(v).ID(), nil },
			Set: func(_ descriptor.Context, v any, x any) error {
				s, err := descriptor.String("id", x)
				if err != nil {
					return err
				}
				return rec(v).SetID(s)
			},
		},
		{
			Name: "chrom", Type: descriptor.TypeString,
			Get: func(_ descriptor.Context, v any) (any, error) { return rec(v).Chrom(), nil },
			Set: func(_ descriptor.Context, v any, x any) error {
				s, err := descriptor.String("chrom", x)
				if err != nil {
					return err
				}
				return rec(v).SetChrom(s)
			},
		},
		{
			Name: "pos", Type: descriptor.TypeInt,
			Get: func(_ descriptor.Context, v any) (any, error) { return rec(v).Pos(), nil },
			Set: func(_ descriptor.Context, v any, x any) error {
				n, err := descriptor.Int("pos", x)
				if err != nil {
					return err
				}
				return rec(v).SetPos(n)
			},
		},
		{
			Name: "ref", Type: descriptor.TypeString,
			Get: func(_ descriptor.Context, v any) (any, error) { return rec(v).Ref(), nil },
			Set: func(_ descriptor.Context, v any, x any) error {
				s, err := descriptor.String("ref", x)
				if err != nil {
					return err
				}
				return rec(v).SetRef(s)
			},
		},
		{
			Name: "alt", Type: descriptor.TypeString,
			Get: func(_ descriptor.Context, v any) (any, error) {
				return strings.Join(rec(v).alts, ","), nil
			},
			Set: func(_ descriptor.Context, v any, x any) error {
				s, err := descriptor.String("alt", x)
				if err != nil {
					return err
				}
				if s == "" || s == "." {
					return rec(v).SetAlts(nil)
				}
				return rec(v).SetAlts(strings.Split(s, ","))
			},
		},
		{
			Name: "qual", Type: descriptor.TypeFloat,
			Get: func(_ descriptor.Context, v any) (any, error) {
				if q, ok := rec(v).Qual(); ok {
					return q, nil
				}
				return nil, nil
			},
			Set: func(_ descriptor.Context, v any, x any) error {
				if x == nil {
					return rec(v).SetQual(math.NaN())
				}
				q, err := descriptor.Float("qual", x)
				if err != nil {
					return err
				}
				return rec(v).SetQual(q)
			},
		},
		{
			Name: "filters", Type: descriptor.TypeString,
			Get: func(_ descriptor.Context, v any) (any, error) {
				return strings.Join(rec(v).filters, ";"), nil
			},
			Set: func(_ descriptor.Context, v any, x any) error {
				s, err := descriptor.String("filters", x)
				if err != nil {
					return err
				}
				if s == "" || s == "." {
					return rec(v).SetFilters(nil)
				}
				return rec(v).SetFilters(strings.Split(s, ";"))
			},
		},
		{
			Name: "samples", Type: descriptor.TypeInt,
			Get: func(_ descriptor.Context, v any) (any, error) {
				return int64(len(rec(v).header.Samples())), nil
			},
		},
	}
	for _, f := range fields {
		if err := t.Add(f); err != nil {
			return nil, err
		}
	}

	if err := t.Child("info", TagInfo, func(p any) (any, error) {
		return rec(p).Info(), nil
	}); err != nil {
		return nil, err
	}
	if err := t.Buffer("genotypes", TagGenotypes, func(p any) (any, error) {
		return p, nil
	}); err != nil {
		return nil, err
	}

	if err := t.Method("clone", func(_ descriptor.Context, v any, _ []any) (any, error) {
		return descriptor.Snapshot{Tag: TagRecord, Value: rec(v).Clone()}, nil
	}); err != nil {
		return nil, err
	}
	t.Stringer(func(v any) (string, error) { return rec(v).String(), nil })
	return t, nil
}

func infoTable() (*descriptor.Table, error) {
	t := descriptor.New(TagInfo)
	info := func(v any) *Info { return v.(*Info) }

	err := t.Dynamic(descriptor.Dynamic{
		Get: func(_ descriptor.Context, v any, key string) (any, error) {
			if !ValidKey(key) {
				return nil, errors.InvalidKey(errors.PhaseExecute, "info key", key)
			}
			val, _ := info(v).Get(key)
			return val, nil
		},
		Set: func(_ descriptor.Context, v any, key string, x any) error {
			return info(v).Set(key, x)
		},
		Keys: func(_ descriptor.Context, v any) ([]string, error) {
			return info(v).Keys(), nil
		},
	})
	if err != nil {
		return nil, err
	}

	// merge copies another Info, or a record's Info, into this one. Both
	// may belong to the same record.
	if err := t.Method("merge", func(c descriptor.Context, v any, args []any) (any, error) {
		if len(args) != 1 {
			return nil, errors.InvalidInput(errors.PhaseExecute, "merge expects one argument")
		}
		other, tag, err := c.Resolve(args[0])
		if err != nil {
			return nil, err
		}
		switch tag {
		case TagInfo:
			info(v).Merge(other.(*Info))
		case TagRecord:
			info(v).Merge(other.(*Record).Info())
		default:
			return nil, errors.TypeMismatch(errors.PhaseConvert, "merge", "info or record", tag)
		}
		return int64(info(v).Len()), nil
	}); err != nil {
		return nil, err
	}
	if err := t.Method("delete", func(_ descriptor.Context, v any, args []any) (any, error) {
		key, err := stringArg(args, 0, "key")
		if err != nil {
			return nil, err
		}
		return info(v).Delete(key), nil
	}); err != nil {
		return nil, err
	}
	if err := t.Method("has", func(_ descriptor.Context, v any, args []any) (any, error) {
		key, err := stringArg(args, 0, "key")
		if err != nil {
			return nil, err
		}
		_, ok := info(v).Get(key)
		return ok, nil
	}); err != nil {
		return nil, err
	}
	t.Stringer(func(v any) (string, error) { return info(v).String(), nil })
	return t, nil
}

func genotypesTable() (*descriptor.Table, error) {
	t := descriptor.New(TagGenotypes)

	if err := t.Register("ploidy", func(_ descriptor.Context, v any) (any, error) {
		return int64(v.(*Record).gts.Ploidy()), nil
	}, nil); err != nil {
		return nil, err
	}

	err := t.Indexer(descriptor.Indexer{
		Len: func(_ descriptor.Context, v any) (int, error) {
			return v.(*Record).gts.Samples(), nil
		},
		Get: func(_ descriptor.Context, v any, i int) (any, error) {
			key := strconv.Itoa(i)
			if names := v.(*Record).header.Samples(); i < len(names) {
				key = names[i]
			}
			return descriptor.Child{Tag: TagSample, Key: key, Project: func(p any) (any, error) {
				r := p.(*Record)
				if i >= r.gts.Samples() {
					return nil, errors.OutOfBounds(TagGenotypes, i, r.gts.Samples())
				}
				return sampleView{rec: r, sample: i}, nil
			}}, nil
		},
		Set: func(_ descriptor.Context, v any, i int, x any) error {
			s, err := descriptor.String("genotypes", x)
			if err != nil {
				return err
			}
			row, err := ParseGT(s)
			if err != nil {
				return err
			}
			return v.(*Record).SetRow(i, row)
		},
		Elem: descriptor.TypeHandle,
	})
	if err != nil {
		return nil, err
	}
	t.Stringer(func(v any) (string, error) {
		r := v.(*Record)
		gts := make([]string, r.gts.Samples())
		for i := range gts {
			row, _ := r.gts.Row(i)
			gts[i] = FormatGT(row)
		}
		return strings.Join(gts, "\t"), nil
	})
	return t, nil
}

func sampleTable() (*descriptor.Table, error) {
	t := descriptor.New(TagSample)
	view := func(v any) sampleView { return v.(sampleView) }

	fields := []descriptor.Field{
		{
			Name: "name", Type: descriptor.TypeString,
			Get: func(_ descriptor.Context, v any) (any, error) {
				s := view(v)
				if names := s.rec.header.Samples(); s.sample < len(names) {
					return names[s.sample], nil
				}
				return nil, nil
			},
		},
		{
			Name: "gt", Type: descriptor.TypeString,
			Get: func(_ descriptor.Context, v any) (any, error) {
				s := view(v)
				row, err := s.rec.gts.Row(s.sample)
				if err != nil {
					return nil, err
				}
				return FormatGT(row), nil
			},
			Set: func(_ descriptor.Context, v any, x any) error {
				str, err := descriptor.String("gt", x)
				if err != nil {
					return err
				}
				row, err := ParseGT(str)
				if err != nil {
					return err
				}
				s := view(v)
				return s.rec.SetRow(s.sample, row)
			},
		},
		{
			Name: "phased", Type: descriptor.TypeBool,
			Get: func(_ descriptor.Context, v any) (any, error) {
				s := view(v)
				row, err := s.rec.gts.Row(s.sample)
				if err != nil {
					return nil, err
				}
				for _, a := range row[min(1, len(row)):] {
					if !a.Phased {
						return false, nil
					}
				}
				return len(row) > 1, nil
			},
		},
	}
	for _, f := range fields {
		if err := t.Add(f); err != nil {
			return nil, err
		}
	}

	err := t.Indexer(descriptor.Indexer{
		Len: func(_ descriptor.Context, v any) (int, error) {
			s := view(v)
			return s.rec.gts.Width(s.sample), nil
		},
		Get: func(_ descriptor.Context, v any, j int) (any, error) {
			return descriptor.Child{Tag: TagAllele, Key: strconv.Itoa(j), Project: func(p any) (any, error) {
				s := p.(sampleView)
				a := alleleView{rec: s.rec, sample: s.sample, pos: j}
				if _, err := a.get(); err != nil {
					return nil, err
				}
				return a, nil
			}}, nil
		},
		Set: func(_ descriptor.Context, v any, j int, x any) error {
			s := view(v)
			return setAlleleIndex(alleleView{rec: s.rec, sample: s.sample, pos: j}, x)
		},
		Elem: descriptor.TypeHandle,
	})
	if err != nil {
		return nil, err
	}
	t.Stringer(func(v any) (string, error) {
		s := view(v)
		row, err := s.rec.gts.Row(s.sample)
		if err != nil {
			return "", err
		}
		return FormatGT(row), nil
	})
	return t, nil
}

func alleleTable() (*descriptor.Table, error) {
	t := descriptor.New(TagAllele)
	view := func(v any) alleleView { return v.(alleleView) }

	fields := []descriptor.Field{
		{
			Name: "index", Type: descriptor.TypeInt,
			Get: func(_ descriptor.Context, v any) (any, error) {
				a, err := view(v).get()
				if err != nil || a.Missing {
					return nil, err
				}
				return int64(a.Index), nil
			},
			Set: func(_ descriptor.Context, v any, x any) error {
				return setAlleleIndex(view(v), x)
			},
		},
		{
			Name: "phased", Type: descriptor.TypeBool,
			Get: func(_ descriptor.Context, v any) (any, error) {
				a, err := view(v).get()
				if err != nil {
					return nil, err
				}
				return a.Phased, nil
			},
			Set: func(_ descriptor.Context, v any, x any) error {
				b, err := descriptor.Bool("phased", x)
				if err != nil {
					return err
				}
				av := view(v)
				a, err := av.get()
				if err != nil {
					return err
				}
				a.Phased = b
				return av.rec.SetAllele(av.sample, av.pos, a)
			},
		},
		{
			Name: "missing", Type: descriptor.TypeBool,
			Get: func(_ descriptor.Context, v any) (any, error) {
				a, err := view(v).get()
				if err != nil {
					return nil, err
				}
				return a.Missing, nil
			},
		},
		{
			Name: "separator", Type: descriptor.TypeString,
			Get: func(_ descriptor.Context, v any) (any, error) {
				av := view(v)
				a, err := av.get()
				if err != nil {
					return nil, err
				}
				return a.Separator(av.pos), nil
			},
		},
	}
	for _, f := range fields {
		if err := t.Add(f); err != nil {
			return nil, err
		}
	}
	t.Stringer(func(v any) (string, error) {
		av := view(v)
		a, err := av.get()
		if err != nil {
			return "", err
		}
		return a.Separator(av.pos) + a.String(), nil
	})
	return t, nil
}

// setAlleleIndex writes an allele number, or a missing call for nil,
// keeping the call's phasing.
func setAlleleIndex(av alleleView, x any) error {
	a, err := av.get()
	if err != nil {
		return err
	}
	if x == nil {
		return av.rec.SetAllele(av.sample, av.pos, NoCall(a.Phased))
	}
	n, err := descriptor.Int("index", x)
	if err != nil {
		return err
	}
	if n < 0 || n > math.MaxInt32/2 {
		return errors.New(errors.PhaseExecute, errors.KindOutOfBounds).
			Field("index").Value(n).Detail("allele %d out of range", n).Build()
	}
	return av.rec.SetAllele(av.sample, av.pos, GenotypeAllele{Index: int(n), Phased: a.Phased})
}

func stringArg(args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", errors.InvalidInput(errors.PhaseExecute, "missing argument "+name)
	}
	return descriptor.String(name, args[i])
}
