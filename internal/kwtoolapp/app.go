// Package kwtoolapp implements the kwtool command, which writes an HTML
// report comparing a keyword dictionary with the datamodel schemas.
package kwtoolapp

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	stdatamodels "github.com/spacetelescope/stdatamodels-go"
	"github.com/spacetelescope/stdatamodels-go/internal/config"
	"github.com/spacetelescope/stdatamodels-go/kwtool"
	"github.com/spacetelescope/stdatamodels-go/schemas"
)

type options struct {
	output   string
	expected string
	kwdDir   string
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("kwtool", flag.ContinueOnError)
	fs.StringVar(&o.output, "o", "report.html", "report file to write")
	fs.StringVar(&o.expected, "expected", "", "expected differences file (default: built-in list)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: kwtool [-o report.html] [-expected file.hcl] <kwd_dir>")
		fs.PrintDefaults()
	}
	return fs
}

func Run(argv []string, stdout, stderr io.Writer) int {
	return RunContext(context.Background(), argv, stdout, stderr)
}

func RunContext(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	var o options
	fs := newFlagSet(&o)
	fs.SetOutput(stderr)
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	o.kwdDir = fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := config.NewLogger(stderr, cfg.LogLevel)

	result, err := compare(ctx, o)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := writeReport(o.output, result); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger.Info("report written", "path", o.output,
		"in_kwd", len(result.InKWD), "in_dmd", len(result.InDMD),
		"def_diff", len(result.DefDiff), "accepted", len(result.Accepted), "stale", len(result.Stale))
	fmt.Fprintln(stdout, o.output)
	return 0
}

func compare(ctx context.Context, o options) (kwtool.Result, error) {
	kwd, err := kwtool.LoadKWD(os.DirFS(o.kwdDir))
	if err != nil {
		return kwtool.Result{}, fmt.Errorf("%s: %w", o.kwdDir, err)
	}

	var models []kwtool.ModelRef
	for _, name := range stdatamodels.ModelTypes() {
		t, _ := stdatamodels.Lookup(name)
		models = append(models, kwtool.ModelRef{Name: t.Name, SchemaURL: t.SchemaURL})
	}
	dmd, err := kwtool.LoadDMD(schemas.NewLoader(), models)
	if err != nil {
		return kwtool.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return kwtool.Result{}, err
	}

	var expected *kwtool.Expected
	if o.expected != "" {
		expected, err = kwtool.LoadExpectedFile(o.expected)
	} else {
		expected, err = kwtool.DefaultExpected()
	}
	if err != nil {
		return kwtool.Result{}, err
	}
	return kwtool.Compare(kwd, dmd, expected), nil
}

func writeReport(path string, r kwtool.Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	w := bufio.NewWriter(f)
	if err := kwtool.Report(w, r); err != nil {
		return err
	}
	return w.Flush()
}
