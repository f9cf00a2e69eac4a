package luabind

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/errors"
	"github.com/wippyai/vbridge/variant"
)

func newTestState(t *testing.T) (*State, *bridge.Registry) {
	t.Helper()
	reg := bridge.New(bridge.WithIndexBase(IndexBase))
	if err := variant.Register(reg); err != nil {
		t.Fatal(err)
	}
	s, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Close()
		reg.Close()
	})
	return s, reg
}

func testRecord(t *testing.T) *variant.Record {
	t.Helper()
	h := variant.NewHeader()
	if _, err := h.AddContig("chr1", 10000); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"NA12878", "NA12879"} {
		if err := h.AddSample(name); err != nil {
			t.Fatal(err)
		}
	}
	rec := variant.NewRecord(h)
	for _, err := range []error{
		rec.SetChrom("chr1"),
		rec.SetPos(6),
		rec.SetID("rs1234"),
		rec.SetRef("A"),
		rec.SetAlts([]string{"T"}),
		rec.PushGenotypes([]variant.GenotypeAllele{
			variant.Unphased(0), variant.Phased(1), variant.Unphased(1), variant.Unphased(1),
		}),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	return rec
}

func wrap(t *testing.T, reg *bridge.Registry, rec *variant.Record) *bridge.Ref {
	t.Helper()
	ref, err := reg.Wrap(variant.TagRecord, rec, bridge.OwnedShared)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ref.Release() })
	return ref
}

func run(t *testing.T, s *State, ref *bridge.Ref, script string) []any {
	t.Helper()
	out, err := s.Run(context.Background(), "variant", ref, script)
	if err != nil {
		t.Fatalf("Run(%q): %v", script, err)
	}
	return out
}

func TestNew_IndexBase(t *testing.T) {
	reg := bridge.New()
	defer reg.Close()
	if _, err := New(reg); errors.KindOf(err) != errors.KindInvalidInput {
		t.Fatalf("New with base 0: %v", err)
	}
}

func TestState_RecordID(t *testing.T) {
	s, reg := newTestState(t)
	rec := testRecord(t)
	ref := wrap(t, reg, rec)

	out := run(t, s, ref, `return variant.id`)
	if diff := cmp.Diff([]any{"rs1234"}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	run(t, s, ref, `variant.id = 'rsabcd'`)
	if rec.ID() != "rsabcd" {
		t.Fatalf("id = %s", rec.ID())
	}

	out = run(t, s, ref, `return variant.pos, variant.qual, variant.alt`)
	if diff := cmp.Diff([]any{int64(6), nil, "T"}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestState_Genotypes(t *testing.T) {
	s, reg := newTestState(t)
	ref := wrap(t, reg, testRecord(t))

	out := run(t, s, ref, `
		local gts = variant.genotypes
		local firsts = {}
		for i = 1, #gts do
			firsts[#firsts + 1] = tostring(gts[i][1])
		end
		return #gts, table.concat(firsts, ","), tostring(gts[1]), gts[1][2].separator`)
	if diff := cmp.Diff([]any{int64(2), "0,1", "0|1", "|"}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	out = run(t, s, ref, `
		local ok, e = pcall(function() return variant.genotypes[3] end)
		return ok, e.kind`)
	if diff := cmp.Diff([]any{false, "out_of_bounds"}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestState_InfoTypes(t *testing.T) {
	s, reg := newTestState(t)
	rec := testRecord(t)
	ref := wrap(t, reg, rec)

	out := run(t, s, ref, `
		local info = variant.info
		info.DP = 10
		local a = info.DP
		info.DP = 99
		local b = info.DP
		info.DP = "hello"
		return a, b, info.DP, info:has("DP")`)
	if diff := cmp.Diff([]any{int64(10), int64(99), "hello", true}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if v, _ := rec.Info().Get("DP"); v != "hello" {
		t.Fatalf("host DP = %v", v)
	}

	out = run(t, s, ref, `variant.info.AF = 0.5; return table.concat(bridge.keys(variant.info), ",")`)
	if diff := cmp.Diff([]any{"DP,AF"}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestState_Errors(t *testing.T) {
	s, reg := newTestState(t)
	rec := testRecord(t)
	ref := wrap(t, reg, rec)

	out := run(t, s, ref, `
		local ok, e = pcall(function() return variant.nope end)
		return ok, e.kind, e.field, e.type, tostring(e) == e.message`)
	if diff := cmp.Diff([]any{false, "unknown_field", "nope", "record", true}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	_, err := s.Run(context.Background(), "variant", ref, `variant.pos = 0`)
	e, ok := errors.As(err)
	if !ok || e.Kind != errors.KindInvalidInput || e.Field != "pos" {
		t.Fatalf("pos = 0: %v", err)
	}
	if rec.Pos() != 6 {
		t.Fatalf("pos changed to %d", rec.Pos())
	}

	_, err = s.Run(context.Background(), "variant", ref, `variant.pos = 2^63`)
	if errors.KindOf(err) != errors.KindTypeMismatch {
		t.Fatalf("pos = 2^63: %v", err)
	}

	_, err = s.Run(context.Background(), "variant", ref, `variant.id = {}`)
	if errors.KindOf(err) != errors.KindTypeMismatch {
		t.Fatalf("table value: %v", err)
	}

	_, err = s.Eval(context.Background(), `error("plain")`)
	if errors.KindOf(err) != errors.KindScript {
		t.Fatalf("script error: %v", err)
	}
	_, err = s.Eval(context.Background(), `return (`)
	if errors.KindOf(err) != errors.KindScript {
		t.Fatalf("syntax error: %v", err)
	}
}

func TestState_ScopeExpiry(t *testing.T) {
	s, reg := newTestState(t)
	rec := testRecord(t)

	scope := reg.Scope()
	ref, err := scope.Wrap(variant.TagRecord, rec)
	if err != nil {
		t.Fatal(err)
	}
	run(t, s, ref, `kept = variant.info; kept.DP = 1`)
	scope.Close()

	out, err := s.Eval(context.Background(), `
		local ok, e = pcall(function() return kept.DP end)
		return ok, e.kind`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{false, "expired"}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestState_Clone(t *testing.T) {
	s, reg := newTestState(t)
	rec := testRecord(t)
	ref := wrap(t, reg, rec)

	out := run(t, s, ref, `
		local copy = variant:clone()
		copy.id = "rsabcd"
		return copy`)
	cp, ok := out[0].(*bridge.Ref)
	if !ok {
		t.Fatalf("result = %T", out[0])
	}
	defer cp.Release()

	if rec.ID() != "rs1234" {
		t.Fatalf("original id = %s", rec.ID())
	}
	if v, err := reg.Get(context.Background(), cp.ID(), "id"); err != nil || v != "rsabcd" {
		t.Fatalf("copy id = %v, %v", v, err)
	}
}

func TestState_Release(t *testing.T) {
	s, reg := newTestState(t)
	ref := wrap(t, reg, testRecord(t))
	base := reg.Live()

	out := run(t, s, ref, `
		info = variant.info
		return bridge.tag(info), bridge.release(info), bridge.release(info), bridge.release(variant)`)
	if diff := cmp.Diff([]any{"info", true, false, false}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if reg.Live() != base {
		t.Fatalf("live = %d, want %d", reg.Live(), base)
	}

	_, err := s.Eval(context.Background(), `return info.DP`)
	if errors.KindOf(err) != errors.KindExpired {
		t.Fatalf("released handle: %v", err)
	}
	if ref.Released() {
		t.Fatal("borrowed root released by script")
	}
}

func TestState_ReleasedAfterReuse(t *testing.T) {
	s, reg := newTestState(t)
	ref := wrap(t, reg, testRecord(t))

	out := run(t, s, ref, `
		local a = variant:clone()
		bridge.release(a)
		for i = 1, 300 do bridge.release(variant:clone()) end
		local c = variant:clone()
		c.id = "rs9999"
		local ok, e = pcall(function() return a.id end)
		local wok, we = pcall(function() a.id = "rs0000" end)
		return ok, e.kind, wok, we.kind, c.id`)
	if diff := cmp.Diff([]any{false, "expired", false, "expired", "rs9999"}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestFinalize(t *testing.T) {
	_, reg := newTestState(t)
	root := wrap(t, reg, testRecord(t))
	v, err := reg.Get(context.Background(), root.ID(), "info")
	if err != nil {
		t.Fatal(err)
	}
	ref := v.(*bridge.Ref)

	c := &carrier{ref: ref, tag: variant.TagInfo}
	c.owned.Store(true)
	finalize(c)
	finalize(c)
	if !ref.Released() {
		t.Fatal("finalizer did not release")
	}

	detached := &carrier{ref: root, tag: variant.TagRecord}
	finalize(detached)
	if root.Released() {
		t.Fatal("borrowed carrier released its ref")
	}
}

func TestState_Cancelled(t *testing.T) {
	s, reg := newTestState(t)
	ref := wrap(t, reg, testRecord(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, "variant", ref, `return variant.id`)
	if errors.KindOf(err) != errors.KindCancelled {
		t.Fatalf("cancelled run: %v", err)
	}
}
