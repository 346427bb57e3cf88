package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/ksco/mcld/pkg/target"
	"github.com/ksco/mcld/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version string

type options struct {
	args    linker.Config
	inputs  []linker.InputSpec
	mapFile string
}

func main() {
	opts := parseArgs(os.Args[1:])

	logger := newLogger(opts.args.Verbose)
	defer logger.Sync()

	ctx, err := linker.NewContext(opts.args, logger)
	utils.MustNo(err)

	// Without -m, the first input that names a machine decides.
	if ctx.Args.Emulation == linker.MachineTypeNone {
		for _, spec := range opts.inputs {
			if spec.Library {
				continue
			}
			file, err := ctx.Areas.Open(spec.Name)
			utils.MustNo(err)
			ctx.Args.Emulation = linker.GetMachineTypeFromContents(file.Contents)
			if ctx.Args.Emulation != linker.MachineTypeNone {
				break
			}
		}
	}

	_, err = target.New(ctx)
	utils.MustNo(err)

	utils.MustNo(link(ctx, opts))
}

func link(ctx *linker.Context, opts *options) error {
	if err := linker.ReadInputFiles(ctx, opts.inputs); err != nil {
		return err
	}

	linker.AllocateCommonSymbols(ctx)

	if err := linker.ScanRelocations(ctx); err != nil {
		return err
	}
	if err := linker.CreateSyntheticSections(ctx); err != nil {
		return err
	}

	l, err := linker.DoLayout(ctx)
	if err != nil {
		return err
	}
	if err := linker.RelaxBranches(ctx, l); err != nil {
		return err
	}
	if err := linker.ApplyRelocations(ctx); err != nil {
		return err
	}

	if err := linker.WriteOutput(ctx, l, linker.NewImageWriter(ctx.Args.Output, l)); err != nil {
		return err
	}

	if opts.mapFile != "" {
		f, err := os.Create(opts.mapFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := linker.WriteOutput(ctx, l, linker.NewReportWriter(ctx, f)); err != nil {
			return err
		}
	}

	ctx.Logger.Info("link done",
		zap.String("output", ctx.Args.Output),
		zap.Stringer("emulation", ctx.Args.Emulation),
		zap.Int("warnings", ctx.Diag.NumWarnings()))
	return nil
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	utils.MustNo(err)
	return logger.Named("mcld")
}

func parseArgs(args []string) *options {
	opts := &options{args: linker.DefaultConfig()}

	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	arg := ""
	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					utils.Fatal(fmt.Sprintf("option -%s: argument missing", name))
				}

				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}
			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}

		return false
	}

	readFlag := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}

		return false
	}

	// Attributes apply to every input that follows them.
	attr := linker.InputAttribute{}
	for len(args) > 0 {
		if readFlag("help") {
			fmt.Printf("usage: %s [options] file...\n", os.Args[0])
			os.Exit(0)
		}

		if readArg("o") || readArg("output") {
			opts.args.Output = arg
		} else if readFlag("v") || readFlag("version") {
			fmt.Printf("mcld %s\n", version)
			os.Exit(0)
		} else if readFlag("verbose") {
			opts.args.Verbose = true
		} else if readArg("m") {
			mt, ok := linker.Emulations[arg]
			if !ok {
				utils.Fatal(fmt.Sprintf("unknown -m argument: %s", arg))
			}
			opts.args.Emulation = mt
		} else if readFlag("shared") {
			opts.args.OutputKind = linker.OutputShared
		} else if readFlag("pie") {
			opts.args.OutputKind = linker.OutputPIE
		} else if readFlag("no-pie") {
			opts.args.OutputKind = linker.OutputExec
		} else if readArg("L") {
			opts.args.LibraryPaths = append(opts.args.LibraryPaths, arg)
		} else if readArg("l") {
			opts.inputs = append(opts.inputs, linker.InputSpec{Name: arg, Library: true, Attr: attr})
		} else if readFlag("as-needed") {
			attr.AsNeeded = true
		} else if readFlag("no-as-needed") {
			attr.AsNeeded = false
		} else if readFlag("Bstatic") || readFlag("static") {
			attr.Static = true
		} else if readFlag("Bdynamic") {
			attr.Static = false
		} else if readFlag("allow-shlib-undefined") {
			opts.args.AllowShlibUndefined = true
		} else if readFlag("no-undefined") {
			opts.args.NoUndefined = true
		} else if readFlag("Bsymbolic") {
			opts.args.Bsymbolic = true
		} else if readFlag("no-relax") {
			opts.args.Relax = false
		} else if readArg("Map") {
			opts.mapFile = arg
		} else if readArg("sysroot") ||
			readArg("plugin") ||
			readArg("plugin-opt") ||
			readFlag("start-group") ||
			readFlag("end-group") ||
			readArg("hash-style") ||
			readArg("build-id") ||
			readFlag("s") {
			// Ignored
		} else {
			if args[0][0] == '-' {
				utils.Fatal(fmt.Sprintf(
					"unknown command line option: %s", args[0]))
			}
			opts.inputs = append(opts.inputs, linker.InputSpec{Name: args[0], Attr: attr})
			args = args[1:]
		}
	}

	for i, path := range opts.args.LibraryPaths {
		opts.args.LibraryPaths[i] = filepath.Clean(path)
	}

	return opts
}
