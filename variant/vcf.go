package variant

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/wippyai/vbridge/errors"
)

// Reader reads records from VCF text. Only the GT format field is kept.
type Reader struct {
	sc     *bufio.Scanner
	header *Header
	line   int
}

// NewReader reads the header from r and returns a reader positioned at the
// first record.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	rd := &Reader{sc: sc, header: NewHeader()}

	for sc.Scan() {
		rd.line++
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "##contig=<"):
			if err := rd.parseContig(line); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "##FORMAT=<ID=GT,"):
		case strings.HasPrefix(line, "##fileformat="):
		case strings.HasPrefix(line, "##"):
			rd.header.AddMeta(line)
		case strings.HasPrefix(line, "#CHROM"):
			cols := strings.Split(line, "\t")
			if len(cols) > 9 {
				for _, s := range cols[9:] {
					if err := rd.header.AddSample(s); err != nil {
						return nil, rd.wrap(err)
					}
				}
			}
			return rd, nil
		default:
			return nil, rd.fail("expected header line")
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "reading header")
	}
	return nil, rd.fail("missing #CHROM line")
}

// Header returns the parsed header.
func (rd *Reader) Header() *Header { return rd.header }

// Next returns the next record, or io.EOF.
func (rd *Reader) Next() (*Record, error) {
	for rd.sc.Scan() {
		rd.line++
		line := rd.sc.Text()
		if line == "" {
			continue
		}
		rec, err := rd.parseRecord(line)
		if err != nil {
			return nil, rd.wrap(err)
		}
		return rec, nil
	}
	if err := rd.sc.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "reading records")
	}
	return nil, io.EOF
}

func (rd *Reader) parseContig(line string) error {
	body := strings.TrimSuffix(strings.TrimPrefix(line, "##contig=<"), ">")
	var id string
	var length int64
	for _, kv := range strings.Split(body, ",") {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case "ID":
			id = v
		case "length":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return rd.fail("invalid contig length " + v)
			}
			length = n
		}
	}
	if _, err := rd.header.AddContig(id, length); err != nil {
		return rd.wrap(err)
	}
	return nil
}

func (rd *Reader) parseRecord(line string) (*Record, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 8 {
		return nil, rd.fail("expected at least 8 columns")
	}

	rec := NewRecord(rd.header)
	if err := rec.SetChrom(cols[0]); err != nil {
		return nil, err
	}
	pos, err := strconv.ParseInt(cols[1], 10, 64)
	if err != nil {
		return nil, rd.fail("invalid position " + cols[1])
	}
	if err := rec.SetPos(pos); err != nil {
		return nil, err
	}
	if err := rec.SetID(cols[2]); err != nil {
		return nil, err
	}
	if err := rec.SetRef(cols[3]); err != nil {
		return nil, err
	}
	if cols[4] != "." {
		if err := rec.SetAlts(strings.Split(cols[4], ",")); err != nil {
			return nil, err
		}
	}
	if cols[5] != "." {
		q, err := strconv.ParseFloat(cols[5], 64)
		if err != nil {
			return nil, rd.fail("invalid quality " + cols[5])
		}
		if err := rec.SetQual(q); err != nil {
			return nil, err
		}
	}
	if cols[6] != "." {
		if err := rec.SetFilters(strings.Split(cols[6], ";")); err != nil {
			return nil, err
		}
	}
	if cols[7] != "." {
		for _, kv := range strings.Split(cols[7], ";") {
			k, v, ok := strings.Cut(kv, "=")
			var val any = true
			if ok {
				val = parseInfoValue(v)
			}
			if err := rec.info.Set(k, val); err != nil {
				return nil, err
			}
		}
	}

	samples := len(rd.header.Samples())
	if samples == 0 {
		return rec, nil
	}
	if len(cols) != 9+samples {
		return nil, rd.fail("sample column count does not match header")
	}
	keys := strings.Split(cols[8], ":")
	if keys[0] != "GT" {
		return rec, nil
	}
	rows := make([][]GenotypeAllele, samples)
	for i := range rows {
		gt, _, _ := strings.Cut(cols[9+i], ":")
		row, err := ParseGT(gt)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	if err := rec.SetGenotypeRows(rows); err != nil {
		return nil, err
	}
	return rec, nil
}

func (rd *Reader) fail(detail string) error {
	return errors.New(errors.PhaseHost, errors.KindInvalidData).
		Detail("line %d: %s", rd.line, detail).Build()
}

func (rd *Reader) wrap(err error) error {
	if e, ok := errors.As(err); ok {
		e.Detail = "line " + strconv.Itoa(rd.line) + ": " + e.Detail
		return e
	}
	return rd.fail(err.Error())
}

// Writer writes records as VCF text. The header is written before the
// first record, or by Flush when no record was written.
type Writer struct {
	w       *bufio.Writer
	header  *Header
	started bool
}

// NewWriter creates a writer for records of header h.
func NewWriter(w io.Writer, h *Header) *Writer {
	return &Writer{w: bufio.NewWriter(w), header: h}
}

func (wr *Writer) start() error {
	if wr.started {
		return nil
	}
	wr.started = true
	for _, line := range wr.header.Lines() {
		if _, err := wr.w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// Write writes one record.
func (wr *Writer) Write(rec *Record) error {
	if err := wr.start(); err != nil {
		return err
	}
	_, err := wr.w.WriteString(rec.String() + "\n")
	return err
}

// Flush writes buffered output.
func (wr *Writer) Flush() error {
	if err := wr.start(); err != nil {
		return err
	}
	return wr.w.Flush()
}

// ReadVCF reads every record from r.
func ReadVCF(r io.Reader) (*Header, []*Record, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	var recs []*Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return rd.Header(), recs, nil
		}
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, rec)
	}
}
