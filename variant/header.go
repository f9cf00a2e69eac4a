package variant

import (
	"strconv"

	"github.com/wippyai/vbridge/errors"
)

// Contig is a reference sequence declared in the header.
type Contig struct {
	ID     string
	Length int64
}

// Header holds the contig dictionary and sample names records refer to.
type Header struct {
	rids    map[string]int
	contigs []Contig
	samples []string
	meta    []string
}

// NewHeader creates an empty header.
func NewHeader() *Header {
	return &Header{rids: make(map[string]int)}
}

// AddContig declares a contig and returns its rid. Declaring an existing
// contig returns the existing rid.
func (h *Header) AddContig(id string, length int64) (int, error) {
	if !contigPattern.MatchString(id) {
		return 0, errors.InvalidKey(errors.PhaseHost, "contig name", id)
	}
	if rid, ok := h.rids[id]; ok {
		return rid, nil
	}
	rid := len(h.contigs)
	h.contigs = append(h.contigs, Contig{ID: id, Length: length})
	h.rids[id] = rid
	return rid, nil
}

// AddSample appends a sample column.
func (h *Header) AddSample(name string) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "empty sample name")
	}
	for _, s := range h.samples {
		if s == name {
			return errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Value(name).Detail("duplicate sample %q", name).Build()
		}
	}
	h.samples = append(h.samples, name)
	return nil
}

// AddMeta keeps a header line verbatim. The leading "##" is optional.
func (h *Header) AddMeta(line string) {
	if len(line) < 2 || line[:2] != "##" {
		line = "##" + line
	}
	h.meta = append(h.meta, line)
}

// RID returns the rid of contig name.
func (h *Header) RID(name string) (int, bool) {
	rid, ok := h.rids[name]
	return rid, ok
}

// Contig returns the contig for rid.
func (h *Header) Contig(rid int) (Contig, bool) {
	if rid < 0 || rid >= len(h.contigs) {
		return Contig{}, false
	}
	return h.contigs[rid], true
}

func (h *Header) Contigs() []Contig { return h.contigs }

func (h *Header) Samples() []string { return h.samples }

// Lines renders the header as VCF meta lines plus the column line.
func (h *Header) Lines() []string {
	lines := []string{"##fileformat=VCFv4.2"}
	for _, m := range h.meta {
		if m != "##fileformat=VCFv4.2" {
			lines = append(lines, m)
		}
	}
	for _, c := range h.contigs {
		line := "##contig=<ID=" + c.ID
		if c.Length > 0 {
			line += ",length=" + strconv.FormatInt(c.Length, 10)
		}
		lines = append(lines, line+">")
	}
	if len(h.samples) > 0 {
		lines = append(lines, `##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">`)
	}
	cols := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO"
	if len(h.samples) > 0 {
		cols += "\tFORMAT"
		for _, s := range h.samples {
			cols += "\t" + s
		}
	}
	return append(lines, cols)
}
