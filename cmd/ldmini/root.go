// Command ldmini is the CLI surface for the core linker: it resolves
// configuration, expands any .a archives, scans for requested libraries,
// and drives internal/link's staged pipeline to produce an ET_EXEC
// executable.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/xyproto/ldmini/internal/archive"
	"github.com/xyproto/ldmini/internal/buildlog"
	"github.com/xyproto/ldmini/internal/config"
	"github.com/xyproto/ldmini/internal/elf"
	"github.com/xyproto/ldmini/internal/libcatalog"
	"github.com/xyproto/ldmini/internal/link"
	"github.com/xyproto/ldmini/internal/linkerr"
)

// rawVersion is parsed through semver at startup so a malformed version
// string fails fast rather than being printed verbatim.
const rawVersion = "0.1.0"

type rootOptions struct {
	output      string
	searchPaths []string
	libraries   []string
	entry       string
	textSegment string
	static      bool
	configPath  string
	verbose     bool
	logFile     string
	dryRun      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ldmini [flags] object...",
		Short:         "A static linker for ELF-64 AMD64 object files",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return linkerr.New(linkerr.UsageError, "at least one input object file is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(afero.NewOsFs(), opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "output path (default a.out)")
	flags.StringArrayVarP(&opts.searchPaths, "search-path", "L", nil, "append a library search directory")
	flags.StringArrayVarP(&opts.libraries, "library", "l", nil, "library name for the catalog adapter")
	flags.StringVarP(&opts.entry, "entry", "e", "", "entry-point symbol name (default main)")
	flags.StringVar(&opts.textSegment, "Ttext", "", "base virtual address (default 0x400000)")
	flags.StringVar(&opts.textSegment, "Ttext-segment", "", "alias of --Ttext")
	flags.BoolVar(&opts.static, "static", false, "static linking (the only supported mode)")
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug-level tracing")
	flags.StringVar(&opts.logFile, "log-file", "", "also write plain-text logs to this file")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "compute layout and resolve relocations without writing output")

	cmd.Version = resolvedVersion()
	cmd.SetVersionTemplate("ldmini {{.Version}}\n")

	return cmd
}

func resolvedVersion() string {
	v, err := semver.NewVersion(rawVersion)
	if err != nil {
		// A malformed built-in version constant is a programming error,
		// not a user-facing one; fail loudly rather than print garbage.
		panic(fmt.Sprintf("invalid built-in version %q: %v", rawVersion, err))
	}
	return v.String()
}

// Execute builds and runs the root command, returning the error (if any)
// so main can map it to an exit code.
func Execute() error {
	cmd := newRootCommand()
	// pflag reads a single-dash word as a cluster of shorthand flags, so
	// the linker spelling -static is rewritten to --static before parsing.
	args := append([]string(nil), os.Args[1:]...)
	for i, a := range args {
		if a == "--" {
			break
		}
		if a == "-static" {
			args[i] = "--static"
		}
	}
	cmd.SetArgs(args)
	return cmd.Execute()
}

func runLink(fs afero.Fs, opts *rootOptions, args []string) error {
	logger, closeLog, err := buildlog.New(opts.verbose, opts.logFile)
	if err != nil {
		return linkerr.Wrap(linkerr.CannotCreateOutput, err, "opening log file %q", opts.logFile)
	}
	defer closeLog()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cfg, opts); err != nil {
		return err
	}

	baseAddress, err := parseAddress(cfg.TextSegmentBase, opts.textSegment)
	if err != nil {
		return linkerr.Wrap(linkerr.UsageError, err, "parsing --Ttext")
	}

	objects, cleanup, err := loadObjects(fs, logger, args)
	defer cleanup()
	if err != nil {
		return err
	}

	var catalog link.LibraryCatalog = libcatalog.NullCatalog{}
	if len(cfg.Libraries) > 0 {
		catalog = libcatalog.NewScanningCatalog(fs, cfg.SearchPaths, cfg.Libraries, logger)
	}

	logger.Info("linking", "objects", len(objects), "entry", cfg.Entry, "base", fmt.Sprintf("%#x", baseAddress))

	result, err := link.Link(objects, link.Options{BaseAddress: baseAddress, EntryName: cfg.Entry, Catalog: catalog})
	if err != nil {
		return err
	}

	if opts.dryRun {
		for _, seg := range result.Segments {
			logger.Info("segment", "base", fmt.Sprintf("%#x", seg.Base), "size", seg.MemSize,
				"r", seg.Read, "w", seg.Write, "x", seg.Execute)
		}
		entry, ok := result.State.Globals[cfg.Entry]
		if !ok || !entry.Defined {
			return linkerr.New(linkerr.MissingEntryPoint, "entry symbol %q not found", cfg.Entry)
		}
		logger.Info("dry run complete", "entry_address", fmt.Sprintf("%#x", entry.ResolvedAddress))
		return nil
	}

	out, err := result.State.WriteExecutable()
	if err != nil {
		return err
	}

	return writeOutput(fs, cfg.Output, out, logger)
}

func applyFlagOverrides(cfg *config.Config, opts *rootOptions) error {
	scalar := map[string]any{}
	if opts.output != "" {
		scalar["output"] = opts.output
	}
	if opts.entry != "" {
		scalar["entry"] = opts.entry
	}
	if opts.static {
		scalar["static"] = true
	}
	if err := config.ApplyOverrides(cfg, scalar); err != nil {
		return err
	}

	if len(opts.searchPaths) > 0 {
		cfg.SearchPaths = append(opts.searchPaths, cfg.SearchPaths...)
	}
	if len(opts.libraries) > 0 {
		cfg.Libraries = append(cfg.Libraries, opts.libraries...)
	}
	return nil
}

// parseAddress accepts 0x/0X (hex), 0o (octal), or plain decimal, per §6.
func parseAddress(fallback uint64, s string) (uint64, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.ParseUint(s, 0, 64)
}

// loadObjects expands any .a archive arguments and parses every resulting
// object (archive members and plain object files alike) into an
// *elf.Object. The returned cleanup function releases every temp file
// created by archive expansion, on every exit path.
func loadObjects(fs afero.Fs, logger *buildlog.Logger, args []string) ([]*elf.Object, func(), error) {
	var objects []*elf.Object
	var cleanups []func()
	cleanup := func() {
		for _, c := range cleanups {
			c()
		}
	}

	for _, path := range args {
		if isArchive(path) {
			streams, archiveCleanup, err := archive.Expand(fs, path)
			cleanups = append(cleanups, archiveCleanup)
			if err != nil {
				return nil, cleanup, err
			}
			for _, s := range streams {
				obj, err := parseObjectFile(fs, s.Path, s.Name)
				if err != nil {
					return nil, cleanup, err
				}
				logSkippedRelocations(logger, obj)
				objects = append(objects, obj)
			}
			continue
		}

		obj, err := parseObjectFile(fs, path, path)
		if err != nil {
			return nil, cleanup, err
		}
		logSkippedRelocations(logger, obj)
		objects = append(objects, obj)
	}

	return objects, cleanup, nil
}

// logSkippedRelocations surfaces, at Debug level, every SHT_RELA section
// the parser declined to read because it targets something other than
// .text (notably .rela.eh_frame).
func logSkippedRelocations(logger *buildlog.Logger, obj *elf.Object) {
	for _, s := range obj.SkippedRelocations {
		logger.Debug("skipping non-.text relocation section",
			"object", obj.ID, "section", s.SectionName, "target_section_index", s.TargetIndex)
	}
}

func isArchive(path string) bool {
	return len(path) > 2 && path[len(path)-2:] == ".a"
}

func parseObjectFile(fs afero.Fs, path, id string) (*elf.Object, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, linkerr.Wrap(linkerr.ReadFailed, err, "reading %q", path)
	}
	return elf.Parse(id, data)
}

// writeOutput writes the produced executable to a temp file in the
// output directory and renames it into place only on success, deleting
// the temp file on any error. It then best-effort sets the executable
// permission bit, per §4.7's "executability bit" side effect.
func writeOutput(fs afero.Fs, outputPath string, data []byte, logger *buildlog.Logger) (err error) {
	dir := "."
	if idx := lastSlash(outputPath); idx >= 0 {
		dir = outputPath[:idx]
	}

	tmp, err := afero.TempFile(fs, dir, ".ldmini-out-*")
	if err != nil {
		return linkerr.Wrap(linkerr.CannotCreateOutput, err, "creating temp output file in %q", dir)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, werr := tmp.Write(data); werr != nil {
		tmp.Close()
		return linkerr.Wrap(linkerr.WriteFailed, werr, "writing output bytes")
	}
	if cerr := tmp.Close(); cerr != nil {
		return linkerr.Wrap(linkerr.WriteFailed, cerr, "closing output file")
	}

	if rerr := fs.Rename(tmpPath, outputPath); rerr != nil {
		return linkerr.Wrap(linkerr.CannotCreateOutput, rerr, "renaming output into place at %q", outputPath)
	}

	if cerr := fs.Chmod(outputPath, 0o755); cerr != nil {
		logger.Debug("could not set executable bit", "path", outputPath, "error", cerr)
	}

	logger.Info("wrote executable", "path", outputPath, "bytes", len(data))
	return nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func main() {
	if err := Execute(); err != nil {
		var le *linkerr.Error
		code := 1
		if errors.As(err, &le) {
			code = le.Kind().ExitCode()
		}
		fmt.Fprintln(os.Stderr, "ldmini:", err)
		os.Exit(code)
	}
}
