package variant

import (
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/vbridge/errors"
)

// vectorEnd pads rows of samples with lower ploidy than the record.
const vectorEnd int32 = math.MinInt32 + 1

// GenotypeAllele is one allele call of a sample. Phased marks the
// separator before the allele as "|" rather than "/".
type GenotypeAllele struct {
	Index   int
	Phased  bool
	Missing bool
}

// Unphased returns an unphased call of allele i.
func Unphased(i int) GenotypeAllele { return GenotypeAllele{Index: i} }

// Phased returns a phased call of allele i.
func Phased(i int) GenotypeAllele { return GenotypeAllele{Index: i, Phased: true} }

// NoCall returns a missing call.
func NoCall(phased bool) GenotypeAllele {
	return GenotypeAllele{Index: -1, Missing: true, Phased: phased}
}

// encode returns the BCF integer encoding: (allele+1)<<1 | phased, with 0
// for a missing unphased call.
func (a GenotypeAllele) encode() int32 {
	var v int32
	if !a.Missing {
		v = int32(a.Index+1) << 1
	}
	if a.Phased {
		v |= 1
	}
	return v
}

func decodeAllele(v int32) GenotypeAllele {
	idx := int(v>>1) - 1
	return GenotypeAllele{
		Index:   idx,
		Phased:  v&1 == 1,
		Missing: idx < 0,
	}
}

func (a GenotypeAllele) String() string {
	if a.Missing {
		return "."
	}
	return strconv.Itoa(a.Index)
}

// Separator returns the separator written before the allele at position
// pos of a row. The first allele has none.
func (a GenotypeAllele) Separator(pos int) string {
	switch {
	case pos == 0:
		return ""
	case a.Phased:
		return "|"
	default:
		return "/"
	}
}

// FormatGT renders a row as a VCF GT value, e.g. "0|1".
func FormatGT(row []GenotypeAllele) string {
	if len(row) == 0 {
		return "."
	}
	var b strings.Builder
	for i, a := range row {
		b.WriteString(a.Separator(i))
		b.WriteString(a.String())
	}
	return b.String()
}

// ParseGT parses a VCF GT value.
func ParseGT(s string) ([]GenotypeAllele, error) {
	if s == "" {
		return nil, errors.InvalidInput(errors.PhaseHost, "empty genotype")
	}
	var row []GenotypeAllele
	phased := false
	start := 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != '|' && s[i] != '/' {
			continue
		}
		tok := s[start:i]
		var a GenotypeAllele
		if tok == "." {
			a = NoCall(phased)
		} else {
			n, err := strconv.Atoi(tok)
			if err != nil || n < 0 {
				return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
					Value(s).Detail("invalid genotype %q", s).Build()
			}
			a = GenotypeAllele{Index: n, Phased: phased}
		}
		row = append(row, a)
		if i < len(s) {
			phased = s[i] == '|'
		}
		start = i + 1
	}
	return row, nil
}

// Genotypes is the sample by ploidy genotype matrix of a record, stored in
// the BCF integer encoding.
type Genotypes struct {
	data    []int32
	samples int
	ploidy  int
}

// Samples returns the number of sample rows.
func (g *Genotypes) Samples() int { return g.samples }

// Ploidy returns the row width.
func (g *Genotypes) Ploidy() int { return g.ploidy }

// Raw returns the encoded values of sample i, including padding.
func (g *Genotypes) Raw(i int) []int32 {
	return g.data[i*g.ploidy : (i+1)*g.ploidy]
}

// Row decodes the calls of sample i.
func (g *Genotypes) Row(i int) ([]GenotypeAllele, error) {
	if i < 0 || i >= g.samples {
		return nil, errors.OutOfBounds("genotypes", i, g.samples)
	}
	raw := g.Raw(i)
	row := make([]GenotypeAllele, 0, len(raw))
	for _, v := range raw {
		if v == vectorEnd {
			break
		}
		row = append(row, decodeAllele(v))
	}
	return row, nil
}

// Width returns the number of calls of sample i, excluding padding.
func (g *Genotypes) Width(i int) int {
	n := 0
	for _, v := range g.Raw(i) {
		if v == vectorEnd {
			break
		}
		n++
	}
	return n
}

// Allele returns call j of sample i.
func (g *Genotypes) Allele(i, j int) (GenotypeAllele, error) {
	if i < 0 || i >= g.samples {
		return GenotypeAllele{}, errors.OutOfBounds("genotypes", i, g.samples)
	}
	if w := g.Width(i); j < 0 || j >= w {
		return GenotypeAllele{}, errors.OutOfBounds("sample", j, w)
	}
	return decodeAllele(g.data[i*g.ploidy+j]), nil
}

func (g *Genotypes) setAllele(i, j int, a GenotypeAllele) error {
	if _, err := g.Allele(i, j); err != nil {
		return err
	}
	g.data[i*g.ploidy+j] = a.encode()
	return nil
}

// reset replaces the matrix with rows of the given calls, padding short rows.
func (g *Genotypes) reset(rows [][]GenotypeAllele) {
	ploidy := 0
	for _, r := range rows {
		if len(r) > ploidy {
			ploidy = len(r)
		}
	}
	g.samples = len(rows)
	g.ploidy = ploidy
	g.data = make([]int32, len(rows)*ploidy)
	for i, r := range rows {
		for j := 0; j < ploidy; j++ {
			v := vectorEnd
			if j < len(r) {
				v = r[j].encode()
			}
			g.data[i*ploidy+j] = v
		}
	}
}

func (g *Genotypes) clone() *Genotypes {
	return &Genotypes{
		data:    append([]int32(nil), g.data...),
		samples: g.samples,
		ploidy:  g.ploidy,
	}
}
