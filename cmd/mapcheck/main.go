package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	xsderrors "github.com/jacoelho/xsd/errors"

	"github.com/dgallion1/mapread/internal/mapping"
	"github.com/dgallion1/mapread/internal/parser"
	"github.com/dgallion1/mapread/internal/pipeline"
	"github.com/dgallion1/mapread/internal/reader"
	"github.com/dgallion1/mapread/internal/resource"
	"github.com/dgallion1/mapread/internal/schema"
)

func main() {
	os.Exit(run())
}

func run() int {
	return runWithArgs(os.Args[1:], os.Stdout, os.Stderr)
}

func runWithArgs(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mapcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	searchPath := fs.String("search-path", "", "directories searched for DTD and XSD resources before the embedded copies")
	concurrency := fs.Int("j", 8, "documents read concurrently")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: mapcheck [-search-path dirs] <dir-or-file>...\n\n")
		fmt.Fprintln(stderr, "Reads every mapping document found and reports the ones that fail.")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "error: at least one directory or file is required")
		fs.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	paths, err := collect(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	inputs := make([]pipeline.Input, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		inputs = append(inputs, pipeline.Input{Name: p, Kind: mapping.SourceFile, Data: data})
	}

	loader := resource.Default(resource.SplitPathList(*searchPath))
	r := reader.New(schema.NewCache(loader, log), log)
	resolver := resource.NewDTDEntityResolver(loader, inputDirs(paths)...)
	outcomes, err := pipeline.ReadAll(context.Background(), r, resolver, inputs, *concurrency)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	failed := 0
	for _, o := range outcomes {
		if o.Valid {
			log.Debug("ok", "file", o.Origin.Name, "dialect", o.Dialect)
			continue
		}
		failed++
		report(stdout, o)
	}
	fmt.Fprintf(stdout, "%d documents, %d failed\n", len(outcomes), failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// report prints one line per failing document, followed by its individual
// grammar or schema violations.
func report(w io.Writer, o pipeline.Outcome) {
	fmt.Fprintf(w, "%s: %s: %s\n", o.Origin.Name, o.ErrorKind, o.Error)
	for _, v := range o.Violations {
		fmt.Fprintf(w, "\t%d:%d: %s\n", v.Line, v.Column, v.Message)
	}
	if violations, ok := xsderrors.AsValidations(o.Err()); ok {
		for _, v := range violations {
			fmt.Fprintf(w, "\t%s\n", v.Error())
		}
	}
}

// collect expands directories into the mapping documents they contain.
// Explicitly named files are always included.
func collect(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && parser.IsMappingFile(d.Name()) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	if len(out) == 0 {
		return nil, errors.New("no mapping documents found")
	}
	return out, nil
}

// inputDirs lists the distinct directories holding paths, so that entities
// declared relative to a mapping file resolve next to it.
func inputDirs(paths []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}
