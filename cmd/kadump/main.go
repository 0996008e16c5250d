// kadump prints keyed archives (NSKeyedArchiver property lists) as JSON,
// YAML, MessagePack or CBOR, lists their class usage, or adds them to a
// catalog database.
package main

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/pflag"

	"github.com/andreyvit/karchive"
	"github.com/andreyvit/karchive/catalog"
	"github.com/andreyvit/karchive/export"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "kadump: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("no input files (see --help)")

func run(args []string, stdout, stderr io.Writer) error {
	var configPath string
	flags := defaultConfig()

	fs := pflag.NewFlagSet("kadump", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&configPath, "config", "c", "", "load defaults from this YAML file")
	flags.addFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: kadump [flags] FILE...\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg := flags
	if configPath != "" {
		var err error
		cfg, err = loadConfig(configPath, defaultConfig())
		if err != nil {
			return err
		}
		overlay(&cfg, &flags, fs)
	}

	files := fs.Args()
	if len(files) == 0 {
		return errUsage
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opt := karchive.Options{
		Logger:   logger,
		Verbose:  cfg.Verbose,
		RootKey:  cfg.RootKey,
		MaxDepth: cfg.MaxDepth,
	}

	if cfg.Index != "" {
		return index(cfg.Index, files, opt, logger, stdout)
	}

	codec, err := export.ByName(cfg.Format)
	if err != nil {
		return err
	}
	selection := cfg.Root
	if cfg.All {
		selection = export.AllRoots
	}

	var failed int
	for _, path := range files {
		if len(files) > 1 && !cfg.Classes && isText(codec) {
			fmt.Fprintf(stdout, "==> %s <==\n", path)
		}
		a, err := karchive.FromFile(path, opt)
		if err == nil {
			switch {
			case cfg.Dump:
				_, err = io.WriteString(stdout, a.Dump(karchive.DumpAll))
			case cfg.Classes:
				err = writeClasses(stdout, a.ClassCounts())
			default:
				err = writeArchive(stdout, a, selection, codec)
			}
		}
		if err != nil {
			failed++
			logger.Error("failed", "file", path, "err", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func isText(c export.Codec) bool {
	return c == export.JSON || c == export.YAML
}

func writeArchive(w io.Writer, a *karchive.Archive, selection string, c export.Codec) error {
	data, err := export.Archive(a, selection, c)
	if err != nil {
		return err
	}
	if isText(c) && !bytes.HasSuffix(data, []byte("\n")) {
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}

type classCount struct {
	name  string
	count int
}

// sortedClasses orders by descending count, then name.
func sortedClasses(counts map[string]int) []classCount {
	list := make([]classCount, 0, len(counts))
	for name, n := range counts {
		list = append(list, classCount{name, n})
	}
	slices.SortFunc(list, func(a, b classCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	return list
}

func writeClasses(w io.Writer, counts map[string]int) error {
	for _, cc := range sortedClasses(counts) {
		if _, err := fmt.Fprintf(w, "%8d  %s\n", cc.count, cc.name); err != nil {
			return err
		}
	}
	return nil
}

func index(dbPath string, files []string, opt karchive.Options, logger *slog.Logger, stdout io.Writer) error {
	cat, err := catalog.Open(dbPath, catalog.Options{Logger: logger, Verbose: opt.Verbose})
	if err != nil {
		return err
	}
	defer cat.Close()

	var failed int
	for _, path := range files {
		e, err := cat.IndexFile(path, opt)
		if err != nil {
			failed++
			logger.Error("failed to index", "file", path, "err", err)
			continue
		}
		if dups, _ := cat.ByHash(e.Hash); len(dups) > 1 {
			logger.Warn("duplicate archive", "file", path, "same_as", dups)
		}
		fmt.Fprintln(stdout, e)
	}

	st, err := cat.Stats()
	if err != nil {
		return err
	}
	logger.Info("catalog updated", "entries", st.Entries, "size", st.Size)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}
