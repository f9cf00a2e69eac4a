package variant

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/wippyai/vbridge/errors"
)

var (
	refPattern = regexp.MustCompile(`^[ACGTNacgtn]+$`)
	altPattern = regexp.MustCompile(`^([ACGTNacgtn]+|\*|<[^<>]+>|\.)$`)
)

// Record is a single variant record. Positions are 1-based.
type Record struct {
	header  *Header
	info    *Info
	gts     *Genotypes
	id      string
	ref     string
	alts    []string
	filters []string
	pos     int64
	qual    float64
	rid     int
}

// NewRecord creates an empty record bound to header.
func NewRecord(h *Header) *Record {
	return &Record{
		header: h,
		info:   newInfo(),
		gts:    &Genotypes{},
		rid:    -1,
		qual:   math.NaN(),
	}
}

func (r *Record) Header() *Header { return r.header }

// ID returns the identifier, or "." when unset.
func (r *Record) ID() string {
	if r.id == "" {
		return "."
	}
	return r.id
}

// SetID sets the identifier. Multiple identifiers are separated by ';'.
func (r *Record) SetID(id string) error {
	if id == "." {
		r.id = ""
		return nil
	}
	if id == "" || strings.ContainsAny(id, " \t\n") {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Field("id").Value(id).Detail("invalid record id %q", id).Build()
	}
	r.id = id
	return nil
}

// RID returns the contig index, or -1 when unset.
func (r *Record) RID() int { return r.rid }

// Chrom returns the contig name, or "." when unset.
func (r *Record) Chrom() string {
	c, ok := r.header.Contig(r.rid)
	if !ok {
		return "."
	}
	return c.ID
}

// SetChrom moves the record to a contig declared in the header.
func (r *Record) SetChrom(name string) error {
	rid, ok := r.header.RID(name)
	if !ok {
		return errors.InvalidKey(errors.PhaseHost, "contig", name)
	}
	r.rid = rid
	return nil
}

// SetRID moves the record to contig rid.
func (r *Record) SetRID(rid int) error {
	if _, ok := r.header.Contig(rid); !ok {
		return errors.OutOfBounds("contig", rid, len(r.header.Contigs()))
	}
	r.rid = rid
	return nil
}

func (r *Record) Pos() int64 { return r.pos }

// SetPos sets the 1-based position.
func (r *Record) SetPos(pos int64) error {
	if pos < 1 {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Field("pos").Value(pos).Detail("position %d is not 1-based", pos).Build()
	}
	if c, ok := r.header.Contig(r.rid); ok && c.Length > 0 && pos > c.Length {
		return errors.New(errors.PhaseHost, errors.KindOutOfBounds).
			Field("pos").Value(pos).Detail("position %d past end of %s (%d)", pos, c.ID, c.Length).Build()
	}
	r.pos = pos
	return nil
}

func (r *Record) Ref() string { return r.ref }

// SetRef sets the reference allele.
func (r *Record) SetRef(ref string) error {
	if !refPattern.MatchString(ref) {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Field("ref").Value(ref).Detail("invalid reference allele %q", ref).Build()
	}
	r.ref = ref
	return nil
}

// Alts returns the alternate alleles.
func (r *Record) Alts() []string { return append([]string(nil), r.alts...) }

// SetAlts replaces the alternate alleles. Genotype calls referring to
// alleles that no longer exist are left in place.
func (r *Record) SetAlts(alts []string) error {
	for _, a := range alts {
		if !altPattern.MatchString(a) {
			return errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Field("alt").Value(a).Detail("invalid alternate allele %q", a).Build()
		}
	}
	if len(alts) == 1 && alts[0] == "." {
		alts = nil
	}
	r.alts = append([]string(nil), alts...)
	return nil
}

// Alleles returns the reference followed by the alternates.
func (r *Record) Alleles() []string {
	return append([]string{r.ref}, r.alts...)
}

// Qual returns the quality and whether it is set.
func (r *Record) Qual() (float64, bool) {
	return r.qual, !math.IsNaN(r.qual)
}

// SetQual sets the quality. NaN clears it.
func (r *Record) SetQual(q float64) error {
	if q < 0 || math.IsInf(q, 0) {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Field("qual").Value(q).Detail("invalid quality %v", q).Build()
	}
	r.qual = q
	return nil
}

// Filters returns the filter names. An empty slice means not filtered yet;
// PASS is stored as a name.
func (r *Record) Filters() []string { return append([]string(nil), r.filters...) }

// SetFilters replaces the filter set. Duplicates are dropped.
func (r *Record) SetFilters(names []string) error {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !ValidKey(n) {
			return errors.InvalidKey(errors.PhaseHost, "filter", n)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	r.filters = out
	return nil
}

// Info returns the record's Info map. Mutations apply to the record.
func (r *Record) Info() *Info { return r.info }

// Genotypes returns the record's genotype matrix.
func (r *Record) Genotypes() *Genotypes { return r.gts }

// PushGenotypes sets the genotype matrix from calls laid out sample after
// sample, as htslib does. The number of calls must be a multiple of the
// header's sample count.
func (r *Record) PushGenotypes(calls []GenotypeAllele) error {
	n := len(r.header.Samples())
	if n == 0 || len(calls)%n != 0 {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Field("genotypes").Detail("%d calls for %d samples", len(calls), n).Build()
	}
	ploidy := len(calls) / n
	rows := make([][]GenotypeAllele, n)
	for i := range rows {
		rows[i] = calls[i*ploidy : (i+1)*ploidy]
	}
	r.gts.reset(rows)
	return nil
}

// SetGenotypeRows sets one row of calls per sample. Rows may differ in
// ploidy.
func (r *Record) SetGenotypeRows(rows [][]GenotypeAllele) error {
	if n := len(r.header.Samples()); len(rows) != n {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Field("genotypes").Detail("%d rows for %d samples", len(rows), n).Build()
	}
	for _, row := range rows {
		for _, a := range row {
			if err := r.checkAllele(a); err != nil {
				return err
			}
		}
	}
	r.gts.reset(rows)
	return nil
}

// SetRow replaces the calls of sample i. A row wider than the current
// ploidy widens every row.
func (r *Record) SetRow(i int, row []GenotypeAllele) error {
	if i < 0 || i >= r.gts.samples {
		return errors.OutOfBounds("genotypes", i, r.gts.samples)
	}
	for _, a := range row {
		if err := r.checkAllele(a); err != nil {
			return err
		}
	}
	rows := make([][]GenotypeAllele, r.gts.samples)
	for k := range rows {
		if k == i {
			rows[k] = row
			continue
		}
		rows[k], _ = r.gts.Row(k)
	}
	r.gts.reset(rows)
	return nil
}

// SetAllele replaces call j of sample i. The allele must exist on the
// record.
func (r *Record) SetAllele(i, j int, a GenotypeAllele) error {
	if err := r.checkAllele(a); err != nil {
		return err
	}
	return r.gts.setAllele(i, j, a)
}

func (r *Record) checkAllele(a GenotypeAllele) error {
	if a.Missing {
		return nil
	}
	if a.Index < 0 || (r.ref != "" && a.Index > len(r.alts)) {
		return errors.New(errors.PhaseHost, errors.KindOutOfBounds).
			Field("allele").Value(a.Index).
			Detail("allele %d out of range (%d alleles)", a.Index, len(r.alts)+1).Build()
	}
	return nil
}

// Clone returns a deep copy sharing only the header.
func (r *Record) Clone() *Record {
	cp := *r
	cp.alts = append([]string(nil), r.alts...)
	cp.filters = append([]string(nil), r.filters...)
	cp.info = r.info.clone()
	cp.gts = r.gts.clone()
	return &cp
}

// ExternalSize approximates the bytes the record retains.
func (r *Record) ExternalSize() int64 {
	n := int64(64 + len(r.id) + len(r.ref))
	for _, a := range r.alts {
		n += int64(len(a)) + 16
	}
	for _, k := range r.info.keys {
		n += int64(len(k)) + 32
		if s, ok := r.info.values[k].(string); ok {
			n += int64(len(s))
		}
	}
	return n + int64(len(r.gts.data))*4
}

// String renders the record as a VCF data line.
func (r *Record) String() string {
	cols := []string{
		r.Chrom(),
		strconv.FormatInt(r.pos, 10),
		r.ID(),
		orDot(r.ref),
		orDot(strings.Join(r.alts, ",")),
		".",
		orDot(strings.Join(r.filters, ";")),
		r.info.String(),
	}
	if q, ok := r.Qual(); ok {
		cols[5] = strconv.FormatFloat(q, 'g', -1, 64)
	}
	if n := len(r.header.Samples()); n > 0 {
		cols = append(cols, "GT")
		for i := 0; i < n; i++ {
			if i >= r.gts.samples {
				cols = append(cols, ".")
				continue
			}
			row, _ := r.gts.Row(i)
			cols = append(cols, FormatGT(row))
		}
	}
	return strings.Join(cols, "\t")
}

func orDot(s string) string {
	if s == "" {
		return "."
	}
	return s
}
