// gemmgen pre-generates microkernel binaries from a manifest, one .bin per
// variant, for dispatch tables that load code at startup instead of
// generating it in-process.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/elara-ml/gemmjit/asm"
	"github.com/elara-ml/gemmjit/gemm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gemmgen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	manifestPath := flag.String("manifest", "", "Kernel manifest (YAML)")
	outDir := flag.String("out", ".", "Output directory for generated binaries")
	withParams := flag.Bool("params", false, "Also write each kernel's packed numeric params as <name>.params")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -manifest <file> [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate AArch64 GEMM microkernel binaries from a manifest.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *manifestPath == "" {
		flag.Usage()
		return fmt.Errorf("manifest required")
	}

	m, err := loadManifest(*manifestPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	bar := progressbar.Default(int64(len(m.Kernels)), "generating")
	for _, spec := range m.Kernels {
		if err := generateOne(spec, *outDir, *withParams); err != nil {
			return fmt.Errorf("kernel %q: %w", spec.Name, err)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	slog.Info("Generation complete", "kernels", len(m.Kernels), "dir", *outDir)
	return nil
}

// manifest is the YAML description of a batch of kernel variants.
type manifest struct {
	Kernels []kernelSpec `yaml:"kernels"`
}

type kernelSpec struct {
	Name    string `yaml:"name"`
	MaxRows int    `yaml:"max_rows"`
	KBytes  int    `yaml:"k_bytes"`

	// ColRemainder is omitted when callers guarantee full-width tiles.
	ColRemainder *int `yaml:"col_remainder"`

	// Min and Max are omitted for an unbounded side.
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`

	PostOps []string `yaml:"post_ops"`
}

var postOpKinds = map[string]gemm.PostOpKind{
	"hardswish": gemm.PostOpHardSwish,
}

// params translates the manifest entry into generation parameters. Unknown
// post-op names fail here rather than surfacing as a generation error with
// only a numeric kind.
func (ks kernelSpec) params() (gemm.Params, error) {
	p := gemm.Params{
		MaxRows:      ks.MaxRows,
		ColRemainder: gemm.NoRemainder,
		KBytes:       ks.KBytes,
	}
	p.Min, p.Max = gemm.NoClamp()
	if ks.ColRemainder != nil {
		p.ColRemainder = *ks.ColRemainder
	}
	if ks.Min != nil {
		p.Min = float32(*ks.Min)
	}
	if ks.Max != nil {
		p.Max = float32(*ks.Max)
	}
	for _, name := range ks.PostOps {
		kind, ok := postOpKinds[name]
		if !ok {
			return gemm.Params{}, fmt.Errorf("unknown post-op %q", name)
		}
		p.PostOps = append(p.PostOps, gemm.PostOp{Kind: kind})
	}
	return p, nil
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Kernels) == 0 {
		return nil, fmt.Errorf("manifest %s declares no kernels", path)
	}
	seen := make(map[string]bool, len(m.Kernels))
	for _, spec := range m.Kernels {
		if spec.Name == "" {
			return nil, fmt.Errorf("manifest %s has a kernel with no name", path)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate kernel name %q", spec.Name)
		}
		seen[spec.Name] = true
	}
	return &m, nil
}

func generateOne(spec kernelSpec, outDir string, withParams bool) error {
	p, err := spec.params()
	if err != nil {
		return err
	}
	prog, err := gemm.Generate(asm.NewBuffer(0), p)
	if err != nil {
		return fmt.Errorf("%s: %w", gemm.StatusOf(err), err)
	}
	slog.Debug("Generated kernel",
		"name", spec.Name,
		"rows", p.MaxRows,
		"remainder", p.ColRemainder,
		"bytes", prog.Size())

	binPath := filepath.Join(outDir, spec.Name+".bin")
	if err := os.WriteFile(binPath, prog.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", binPath, err)
	}
	if !withParams {
		return nil
	}
	block := p.PackParams()
	if len(block) == 0 {
		return nil
	}
	paramsPath := filepath.Join(outDir, spec.Name+".params")
	if err := os.WriteFile(paramsPath, block, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", paramsPath, err)
	}
	return nil
}
