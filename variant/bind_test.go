package variant

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/errors"
)

type bound struct {
	t   *testing.T
	reg *bridge.Registry
	ctx context.Context
}

func newBound(t *testing.T, opts ...bridge.Option) *bound {
	t.Helper()
	reg := bridge.New(opts...)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return &bound{t: t, reg: reg, ctx: context.Background()}
}

func (b *bound) wrap(rec *Record) *bridge.Ref {
	b.t.Helper()
	ref, err := b.reg.Wrap(TagRecord, rec, bridge.OwnedShared)
	if err != nil {
		b.t.Fatal(err)
	}
	return ref
}

func (b *bound) get(ref *bridge.Ref, name string) any {
	b.t.Helper()
	v, err := b.reg.Get(b.ctx, ref.ID(), name)
	if err != nil {
		b.t.Fatalf("get %s: %v", name, err)
	}
	return v
}

func (b *bound) set(ref *bridge.Ref, name string, v any) {
	b.t.Helper()
	if err := b.reg.Set(b.ctx, ref.ID(), name, v); err != nil {
		b.t.Fatalf("set %s: %v", name, err)
	}
}

func (b *bound) index(ref *bridge.Ref, i int) *bridge.Ref {
	b.t.Helper()
	v, err := b.reg.Index(b.ctx, ref.ID(), i)
	if err != nil {
		b.t.Fatalf("index %d: %v", i, err)
	}
	return v.(*bridge.Ref)
}

func (b *bound) str(ref *bridge.Ref) string {
	b.t.Helper()
	s, err := b.reg.String(b.ctx, ref.ID())
	if err != nil {
		b.t.Fatal(err)
	}
	return s
}

func TestBind_Register(t *testing.T) {
	b := newBound(t)

	var tags []string
	for _, tbl := range b.reg.Types() {
		tags = append(tags, tbl.Tag())
	}
	want := []string{TagAllele, TagGenotypes, TagInfo, TagRecord, TagSample}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Fatalf("types (-want +got):\n%s", diff)
	}

	err := Register(b.reg)
	if errors.KindOf(err) != errors.KindRegistration {
		t.Fatalf("second Register = %v", err)
	}
}

func TestBind_RecordID(t *testing.T) {
	b := newBound(t)
	rec := testRecord(t)
	ref := b.wrap(rec)

	if got := b.get(ref, "id"); got != "rs1234" {
		t.Fatalf("id = %v", got)
	}
	b.set(ref, "id", "rsabcd")
	if rec.ID() != "rsabcd" {
		t.Fatalf("host id = %s", rec.ID())
	}

	if got := b.get(ref, "qual"); got != nil {
		t.Fatalf("qual = %v", got)
	}
	b.set(ref, "qual", 29.5)
	if q, ok := rec.Qual(); !ok || q != 29.5 {
		t.Fatalf("host qual = %v %v", q, ok)
	}
	if got := b.get(ref, "samples"); got != int64(2) {
		t.Fatalf("samples = %v", got)
	}

	_, err := b.reg.Get(b.ctx, ref.ID(), "nonexistent")
	e, ok := errors.As(err)
	if !ok || e.Kind != errors.KindUnknownField || e.Field != "nonexistent" {
		t.Fatalf("unknown field: %v", err)
	}

	err = b.reg.Set(b.ctx, ref.ID(), "pos", int64(0))
	if errors.KindOf(err) != errors.KindInvalidInput || rec.Pos() != 6 {
		t.Fatalf("pos 0: %v (pos %d)", err, rec.Pos())
	}
	err = b.reg.Set(b.ctx, ref.ID(), "samples", int64(3))
	if errors.KindOf(err) != errors.KindReadOnly {
		t.Fatalf("samples write: %v", err)
	}
}

func TestBind_InfoTypes(t *testing.T) {
	b := newBound(t)
	rec := testRecord(t)
	info := b.get(b.wrap(rec), "info").(*bridge.Ref)

	if got := b.get(info, "DP"); got != nil {
		t.Fatalf("absent DP = %v", got)
	}
	for _, v := range []any{int64(10), int64(99), "hello"} {
		b.set(info, "DP", v)
		if got := b.get(info, "DP"); got != v {
			t.Fatalf("DP = %v, want %v", got, v)
		}
	}
	if v, _ := rec.Info().Get("DP"); v != "hello" {
		t.Fatalf("host DP = %v", v)
	}

	keys, err := b.reg.Keys(b.ctx, info.ID())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"DP"}, keys); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}

	err = b.reg.Set(b.ctx, info.ID(), "DP", []string{"x"})
	if errors.KindOf(err) != errors.KindTypeMismatch {
		t.Fatalf("list value: %v", err)
	}
	err = b.reg.Set(b.ctx, info.ID(), "9x", int64(1))
	if errors.KindOf(err) != errors.KindInvalidKey {
		t.Fatalf("bad key: %v", err)
	}

	has, err := b.reg.Invoke(b.ctx, info.ID(), "has", []any{"DP"})
	if err != nil || has != true {
		t.Fatalf("has = %v, %v", has, err)
	}
	b.set(info, "DP", nil)
	if has, _ := b.reg.Invoke(b.ctx, info.ID(), "has", []any{"DP"}); has != false {
		t.Fatal("DP still present after nil write")
	}
}

func TestBind_InfoMerge(t *testing.T) {
	b := newBound(t)
	a, c := testRecord(t), testRecord(t)
	must(t, a.Info().Set("DP", int64(1)))
	must(t, c.Info().Set("AF", 0.5))

	aRef, cRef := b.wrap(a), b.wrap(c)
	info := b.get(aRef, "info").(*bridge.Ref)

	n, err := b.reg.Invoke(b.ctx, info.ID(), "merge", []any{cRef})
	if err != nil || n != int64(2) {
		t.Fatalf("merge = %v, %v", n, err)
	}
	if got := a.Info().String(); got != "DP=1;AF=0.5" {
		t.Fatalf("merged = %s", got)
	}

	// Merging a record's own Info resolves the same cell twice in one call.
	self := b.get(aRef, "info").(*bridge.Ref)
	if _, err := b.reg.Invoke(b.ctx, info.ID(), "merge", []any{self}); err != nil {
		t.Fatalf("self merge: %v", err)
	}

	gts := b.get(aRef, "genotypes").(*bridge.Ref)
	_, err = b.reg.Invoke(b.ctx, info.ID(), "merge", []any{gts})
	if errors.KindOf(err) != errors.KindTypeMismatch {
		t.Fatalf("merge genotypes: %v", err)
	}
}

func TestBind_GenotypeRow(t *testing.T) {
	b := newBound(t, bridge.WithIndexBase(1))
	rec := testRecord(t)
	row, err := ParseGT("0|1/1")
	must(t, err)
	must(t, rec.SetRow(0, row))

	gts := b.get(b.wrap(rec), "genotypes").(*bridge.Ref)
	n, err := b.reg.Len(b.ctx, gts.ID())
	if err != nil || n != 2 {
		t.Fatalf("#gts = %d, %v", n, err)
	}

	sample := b.index(gts, 1)
	if got := b.get(sample, "name"); got != "NA12878" {
		t.Fatalf("name = %v", got)
	}
	if w, _ := b.reg.Len(b.ctx, sample.ID()); w != 3 {
		t.Fatalf("width = %d", w)
	}

	first := b.index(sample, 1)
	if got := b.get(first, "index"); got != int64(0) {
		t.Fatalf("[1].index = %v", got)
	}
	if got := b.get(first, "phased"); got != false {
		t.Fatalf("[1].phased = %v", got)
	}

	second := b.index(sample, 2)
	if got := b.get(second, "separator"); got != "|" {
		t.Fatalf("[2].separator = %v", got)
	}
	if got := b.get(second, "index"); got != int64(1) {
		t.Fatalf("[2].index = %v", got)
	}

	var parts []string
	for i := 1; i <= 3; i++ {
		parts = append(parts, b.str(b.index(sample, i)))
	}
	if diff := cmp.Diff([]string{"0", "|1", "/1"}, parts); diff != "" {
		t.Fatalf("alleles (-want +got):\n%s", diff)
	}
	if got := b.str(sample); got != "0|1/1" {
		t.Fatalf("tostring = %s", got)
	}

	_, err = b.reg.Index(b.ctx, sample.ID(), 4)
	if errors.KindOf(err) != errors.KindOutOfBounds {
		t.Fatalf("[4]: %v", err)
	}
	_, err = b.reg.Index(b.ctx, sample.ID(), 0)
	if errors.KindOf(err) != errors.KindOutOfBounds {
		t.Fatalf("[0]: %v", err)
	}
}

func TestBind_GenotypeWrites(t *testing.T) {
	b := newBound(t)
	rec := testRecord(t)
	gts := b.get(b.wrap(rec), "genotypes").(*bridge.Ref)
	sample := b.index(gts, 1)

	if err := b.reg.SetIndex(b.ctx, sample.ID(), 0, int64(0)); err != nil {
		t.Fatal(err)
	}
	allele := b.index(sample, 1)
	b.set(allele, "phased", true)
	if got := b.str(sample); got != "0|1" {
		t.Fatalf("after writes = %s", got)
	}

	if err := b.reg.SetIndex(b.ctx, sample.ID(), 1, nil); err != nil {
		t.Fatal(err)
	}
	if got := b.get(allele, "missing"); got != true {
		t.Fatalf("missing = %v", got)
	}
	if got := b.get(allele, "index"); got != nil {
		t.Fatalf("index of missing = %v", got)
	}

	err := b.reg.SetIndex(b.ctx, sample.ID(), 0, int64(7))
	if errors.KindOf(err) != errors.KindOutOfBounds {
		t.Fatalf("allele 7: %v", err)
	}

	b.set(sample, "gt", "1/1/0")
	if got := b.str(gts); got != "0|1\t1/1/0" {
		t.Fatalf("genotypes = %q", got)
	}
}

func TestBind_ChildAfterShrink(t *testing.T) {
	b := newBound(t)
	rec := testRecord(t)
	root := b.wrap(rec)
	gts := b.get(root, "genotypes").(*bridge.Ref)
	allele := b.index(b.index(gts, 0), 1)

	b.set(b.index(gts, 0), "gt", "0")
	_, err := b.reg.Get(b.ctx, allele.ID(), "index")
	e, ok := errors.As(err)
	if !ok || e.Kind != errors.KindOutOfBounds {
		t.Fatalf("stale allele: %v", err)
	}

	root.Release()
	if _, err := b.reg.Get(b.ctx, gts.ID(), "ploidy"); err != nil {
		t.Fatalf("child outlived by root: %v", err)
	}
}

func TestBind_Clone(t *testing.T) {
	b := newBound(t)
	rec := testRecord(t)
	ref := b.wrap(rec)

	v, err := b.reg.Invoke(b.ctx, ref.ID(), "clone", nil)
	if err != nil {
		t.Fatal(err)
	}
	cp := v.(*bridge.Ref)
	b.set(cp, "id", "rsabcd")

	if rec.ID() != "rs1234" {
		t.Fatalf("original id = %s", rec.ID())
	}
	if got := b.get(cp, "id"); got != "rsabcd" {
		t.Fatalf("clone id = %v", got)
	}
	if got := b.str(ref); got != rec.String() {
		t.Fatalf("tostring = %s", got)
	}
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
