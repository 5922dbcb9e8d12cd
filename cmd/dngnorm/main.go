// Command dngnorm decodes the raw image of a DNG file, normalizes it and writes
// the linear result as a 16-bit TIFF or a PPM file.
package main

import (
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/mdouchement/dng"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
)

type config struct {
	input    string
	output   string
	format   string
	threads  int
	noDither bool
	noOps    bool
	info     bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.input, "i", "", "input DNG file")
	flag.StringVar(&cfg.output, "o", "", "output file (default: input name with the format extension)")
	flag.StringVar(&cfg.format, "format", "tiff", "output format: tiff or ppm")
	flag.IntVar(&cfg.threads, "threads", 0, "number of workers, 0 for one per CPU")
	flag.BoolVar(&cfg.noDither, "no-dither", false, "disable dithering of the 16-bit scaling and linearization")
	flag.BoolVar(&cfg.noOps, "skip-opcodes", false, "do not apply OpcodeList1 and OpcodeList2")
	flag.BoolVar(&cfg.info, "info", false, "print the tags of the raw image, then exit")
	flag.Parse()

	if cfg.input == "" && flag.NArg() > 0 {
		cfg.input = flag.Arg(0)
	}
	if cfg.input == "" {
		fmt.Fprintln(os.Stderr, "usage: dngnorm [flags] -i input.dng")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "dngnorm: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	cfg.format = strings.ToLower(cfg.format)
	if cfg.format != "tiff" && cfg.format != "ppm" {
		return errors.Errorf("unknown format %q", cfg.format)
	}

	f, err := os.Open(cfg.input)
	if err != nil {
		return errors.Wrap(err, "could not open input")
	}
	defer f.Close()

	if cfg.info {
		s, err := dng.Describe(f)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n%s", cfg.input, s)
		return nil
	}

	img, err := dng.Decode(f, &dng.Options{
		Threads:     cfg.threads,
		NoDither:    cfg.noDither,
		SkipOpcodes: cfg.noOps,
	})
	if err != nil {
		return err
	}
	defer img.Release()

	m, err := dng.ToImage(img)
	if err != nil {
		return err
	}

	if cfg.output == "" {
		ext := filepath.Ext(cfg.input)
		cfg.output = strings.TrimSuffix(cfg.input, ext) + "." + cfg.format
	}
	out, err := os.Create(cfg.output)
	if err != nil {
		return errors.Wrap(err, "could not create output")
	}
	if err = encode(out, m, cfg.format); err != nil {
		out.Close()
		return err
	}
	return errors.Wrap(out.Close(), "could not close output")
}

func encode(w io.Writer, m image.Image, format string) error {
	switch format {
	case "ppm":
		return errors.Wrap(ppm.Encode(w, m), "ppm")
	default:
		return errors.Wrap(tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate}), "tiff")
	}
}
