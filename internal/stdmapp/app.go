// Package stdmapp implements the stdm command: inspecting, validating and
// converting data model files and indexing their keywords.
package stdmapp

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	stdatamodels "github.com/spacetelescope/stdatamodels-go"
	"github.com/spacetelescope/stdatamodels-go/catalog"
	"github.com/spacetelescope/stdatamodels-go/internal/config"
	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

const usage = `usage: stdm <command> [arguments]

commands:
  info <file>                        print the model type and keyword values
  validate <file>                    validate strictly, exit 1 on failure
  convert <in> <out>                 rewrite a FITS file as ASDF or the reverse
  ingest -db <catalog> <file>...     index keyword values of files
  find -db <catalog> <hdu> <keyword> <value>
                                     list ingested files with a keyword value
`

func Run(argv []string, stdout, stderr io.Writer) int {
	return RunContext(context.Background(), argv, stdout, stderr)
}

func RunContext(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 || argv[0] == "-h" || argv[0] == "help" {
		fmt.Fprint(stdout, usage)
		return ExitOK
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitUsage
	}
	a := &app{
		stdout: bufio.NewWriter(stdout),
		stderr: stderr,
		logger: config.NewLogger(stderr, cfg.LogLevel),
	}
	code := a.run(ctx, argv[0], argv[1:])
	if err := a.stdout.Flush(); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitFailure
	}
	return code
}

type app struct {
	stdout *bufio.Writer
	stderr io.Writer
	logger *slog.Logger
}

var errUsage = errors.New("bad usage")

func (a *app) run(ctx context.Context, cmd string, args []string) int {
	var err error
	switch cmd {
	case "info":
		err = a.info(args)
	case "validate":
		err = a.validate(args)
	case "convert":
		err = a.convert(args)
	case "ingest":
		err = a.ingest(ctx, args)
	case "find":
		err = a.find(ctx, args)
	default:
		err = fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp):
		fmt.Fprintln(a.stderr, err)
		fmt.Fprint(a.stderr, usage)
		return ExitUsage
	default:
		fmt.Fprintln(a.stderr, err)
		return ExitFailure
	}
}

func (a *app) open(path string, opts ...stdatamodels.Option) (*stdatamodels.DataModel, error) {
	return stdatamodels.Open(path, append([]stdatamodels.Option{stdatamodels.WithLogger(a.logger)}, opts...)...)
}

func (a *app) info(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("info takes one file: %w", errUsage)
	}
	m, err := a.open(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "model_type: %s\n", m.Type().Name)
	for _, it := range m.Items() {
		if arr, ok := it.Value.(*ndarray.Array); ok {
			fmt.Fprintf(a.stdout, "%s: array %v %s\n", it.Key, arr.Shape, arr.Dtype)
			continue
		}
		fmt.Fprintf(a.stdout, "%s: %v\n", it.Key, it.Value)
	}
	return nil
}

func (a *app) validate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("validate takes one file: %w", errUsage)
	}
	m, err := a.open(args[0], stdatamodels.WithStrictValidation(true))
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: valid %s\n", args[0], m.Type().Name)
	return nil
}

func (a *app) convert(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("convert takes an input and an output file: %w", errUsage)
	}
	m, err := a.open(args[0])
	if err != nil {
		return err
	}
	if err := m.Save(args[1]); err != nil {
		return err
	}
	a.logger.Info("converted", "from", args[0], "to", args[1], "model_type", m.Type().Name)
	return nil
}

func (a *app) catalogFlags(name string, args []string) (*catalog.Catalog, []string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	db := fs.String("db", "", "catalog database file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if *db == "" {
		return nil, nil, fmt.Errorf("%s needs -db: %w", name, errUsage)
	}
	c, err := catalog.Open(*db)
	if err != nil {
		return nil, nil, err
	}
	return c, fs.Args(), nil
}

func (a *app) ingest(ctx context.Context, args []string) (err error) {
	c, files, err := a.catalogFlags("ingest", args)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, c.Close()) }()
	if len(files) == 0 {
		return fmt.Errorf("ingest takes at least one file: %w", errUsage)
	}
	for _, f := range files {
		m, err := a.open(f)
		if err != nil {
			return err
		}
		p := stdatamodels.CatalogProduct(m)
		id, err := c.Ingest(ctx, p)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		fmt.Fprintf(a.stdout, "%s\t%s\t%d keywords\n", id, f, len(p.Keywords))
	}
	return nil
}

func (a *app) find(ctx context.Context, args []string) (err error) {
	c, rest, err := a.catalogFlags("find", args)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, c.Close()) }()
	if len(rest) != 3 {
		return fmt.Errorf("find takes an hdu, a keyword and a value: %w", errUsage)
	}
	products, err := c.Find(ctx, rest[0], rest[1], parseValue(rest[2]))
	if err != nil {
		return err
	}
	for _, p := range products {
		fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", p.ID, p.Filename, p.ModelType)
	}
	return nil
}

// parseValue reads a command line value as an integer, number or boolean
// where it parses as one, and as a string otherwise.
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
