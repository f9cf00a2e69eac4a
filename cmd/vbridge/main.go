package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/config"
	"github.com/wippyai/vbridge/descriptor"
	"github.com/wippyai/vbridge/jsbind"
	"github.com/wippyai/vbridge/luabind"
	"github.com/wippyai/vbridge/variant"
	"github.com/wippyai/vbridge/wasmbind"
)

type options struct {
	vcf         string
	engine      string
	script      string
	scriptFile  string
	module      string
	configFile  string
	shared      bool
	list        bool
	interactive bool
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.vcf, "vcf", "", "Path to VCF file (default: built-in example record)")
	flag.StringVar(&o.engine, "engine", "", "Script engine: lua, js or wasm (overrides config)")
	flag.StringVar(&o.script, "e", "", "Script to run per record; export name with -engine wasm")
	flag.StringVar(&o.scriptFile, "f", "", "Read the script from a file")
	flag.StringVar(&o.module, "module", "", "Guest module for -engine wasm")
	flag.StringVar(&o.configFile, "config", "", "YAML config file")
	flag.BoolVar(&o.shared, "shared", false, "Wrap records as owned shared cells instead of scoped borrows")
	flag.BoolVar(&o.list, "list", false, "List exposed types and exit")
	flag.BoolVar(&o.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&o.verbose, "v", false, "Verbose logging")
	flag.Parse()

	if err := run(context.Background(), o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() error {
	fmt.Fprintln(os.Stderr, "Usage: vbridge [-vcf file.vcf] [-engine lua|js] -e 'script'")
	fmt.Fprintln(os.Stderr, "       vbridge [-vcf file.vcf] -engine wasm -module guest.wasm -e export")
	fmt.Fprintln(os.Stderr, "       vbridge -list")
	fmt.Fprintln(os.Stderr, "       vbridge [-vcf file.vcf] -i  (interactive mode)")
	return fmt.Errorf("no script given")
}

func loadConfig(o options) (*config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return nil, err
		}
	}
	if o.engine != "" {
		cfg.Engine = o.engine
	}
	if o.shared {
		cfg.Shared = true
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := cfg.NewLogger(o.verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	bridge.SetLogger(log)
	luabind.SetLogger(log)
	jsbind.SetLogger(log)
	wasmbind.SetLogger(log)

	reg := bridge.New(cfg.Options(log)...)
	defer reg.Close()
	if err := variant.Register(reg); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	if o.list {
		return list(os.Stdout, reg)
	}

	header, recs, err := loadRecords(o.vcf)
	if err != nil {
		return err
	}
	log.Debug("records loaded", zap.Int("count", len(recs)), zap.String("engine", cfg.Engine))

	if o.interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(ctx, cfg, reg, recs, o.module)
	}

	script := o.script
	if o.scriptFile != "" {
		data, err := os.ReadFile(o.scriptFile)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		script = string(data)
	}
	if script == "" {
		return usage()
	}

	rn, err := newRunner(ctx, cfg.Engine, reg, o.module)
	if err != nil {
		return err
	}
	defer rn.Close()

	w := variant.NewWriter(os.Stdout, header)
	for i, rec := range recs {
		out, err := runRecord(ctx, reg, cfg.Mode(), rn, rec, script)
		if err != nil {
			return fmt.Errorf("record %d (%s:%d): %w", i+1, rec.Chrom(), rec.Pos(), err)
		}
		if out != "" {
			fmt.Fprintln(os.Stderr, out)
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return w.Flush()
}

// loadRecords reads path, or builds the example record when path is empty.
func loadRecords(path string) (*variant.Header, []*variant.Record, error) {
	if path == "" {
		h, rec, err := exampleRecord()
		if err != nil {
			return nil, nil, err
		}
		return h, []*variant.Record{rec}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open vcf: %w", err)
	}
	defer f.Close()
	h, recs, err := variant.ReadVCF(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read vcf: %w", err)
	}
	return h, recs, nil
}

// exampleRecord builds chr1:6 rs1234 A>T with samples 0|1 and 1/1.
func exampleRecord() (*variant.Header, *variant.Record, error) {
	h := variant.NewHeader()
	if _, err := h.AddContig("chr1", 10000); err != nil {
		return nil, nil, err
	}
	for _, name := range []string{"NA12878", "NA12879"} {
		if err := h.AddSample(name); err != nil {
			return nil, nil, err
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
			return nil, nil, err
		}
	}
	return h, rec, nil
}

// list prints every registered type with WIT types for its fields, then
// the imports of the wasm bridge module.
func list(w io.Writer, reg *bridge.Registry) error {
	for _, t := range reg.Types() {
		fmt.Fprintf(w, "%s\n", t.Tag())
		for _, f := range t.Fields() {
			typ := wasmbind.TypeName(wasmbind.WitType(f.Type))
			if f.Kind != descriptor.KindScalar {
				typ = f.Child
			}
			var flags []string
			if f.Set == nil && f.Kind == descriptor.KindScalar {
				flags = append(flags, "read-only")
			}
			if f.Kind == descriptor.KindBuffer {
				flags = append(flags, "indexable")
			}
			line := fmt.Sprintf("  %s: %s", f.Name, typ)
			if len(flags) > 0 {
				line += " (" + strings.Join(flags, ", ") + ")"
			}
			fmt.Fprintln(w, line)
		}
		for _, m := range t.Methods() {
			fmt.Fprintf(w, "  %s()\n", m.Name)
		}
		if ix := t.Index(); ix != nil {
			fmt.Fprintf(w, "  [index]: %s\n", wasmbind.TypeName(wasmbind.WitType(ix.Elem)))
		}
		if t.Fallback() != nil {
			fmt.Fprintln(w, "  [key]: value")
		}
	}

	fmt.Fprintf(w, "\nwasm module %q:\n", wasmbind.ModuleName)
	for _, sig := range wasmbind.Signatures() {
		fmt.Fprintf(w, "  %s\n", sig)
	}
	return nil
}
