package finalize

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// cliArgs accumulates command-line state. Flags are order sensitive: a
// --manifest binds to the most recent --output or --standalone-output and
// picks up the --cwd and --groups in effect where it appears.
type cliArgs struct {
	opts Options

	cwd        string
	groups     GroupSelection
	standalone string // set by --standalone-output, cleared by --output

	strippedDir  string
	variantsFile string
	configFile   string
	debug        bool
	verbose      bool
	version      bool
}

func (a *cliArgs) addManifest(file string, optional bool) error {
	if file == "" {
		return errors.New("empty manifest path")
	}
	in := InputManifest{
		File:        file,
		Cwd:         a.cwd,
		Groups:      a.groups,
		OutputGroup: len(a.opts.Outputs) - 1,
		Standalone:  a.standalone,
		Optional:    optional,
	}
	if in.OutputGroup < 0 {
		in.OutputGroup = NoGroup
	}
	a.opts.Inputs = append(a.opts.Inputs, in)
	return nil
}

func (a *cliArgs) addBinary(pattern string) error {
	if len(a.opts.Outputs) == 0 {
		return fmt.Errorf("--binary=%q needs a preceding --output", pattern)
	}
	a.opts.Binaries = append(a.opts.Binaries, InputBinary{
		Pattern: pattern,
		Group:   len(a.opts.Outputs) - 1,
	})
	return nil
}

func newFlagSet(args *cliArgs, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("finalize", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { printHelp(fs) }

	fs.StringVar(&args.opts.BuildIDFile, "build-id-file", "", "Output build ID list (required)")
	fs.StringVar(&args.opts.Depfile, "depfile", "", "Ninja depfile to write")
	fs.StringVar(&args.opts.DebugArchive, "debug-archive", "", "Write a .tar.zst of .build-id debug files")
	fs.BoolVar(&args.opts.UploadSymbols, "upload-symbols", false, "Upload debug files to the configured symbol bucket")
	fs.Func("output", "Output manifest file; its position is its group", func(v string) error {
		args.opts.Outputs = append(args.opts.Outputs, v)
		args.standalone = ""
		return nil
	})
	fs.Func("standalone-output", "Standalone (archive) output manifest file", func(v string) error {
		args.opts.Standalone = append(args.opts.Standalone, v)
		args.standalone = v
		return nil
	})
	fs.Func("cwd", "Input entries are relative to this directory", func(v string) error {
		args.cwd = v
		return nil
	})
	fs.Func("groups", `"all" or comma-separated groups to include`, func(v string) error {
		args.groups = parseGroups(v)
		return nil
	})
	fs.Func("manifest", "Input manifest file (must exist)", func(v string) error {
		return args.addManifest(v, false)
	})
	fs.Func("optional-manifest", "Input manifest file (if it exists)", func(v string) error {
		return args.addManifest(v, true)
	})
	fs.Func("binary", "Take matching binaries from auxiliary manifests", args.addBinary)
	fs.StringVar(&args.strippedDir, "stripped-dir", "", "Directory for stripped copies (default from config)")
	fs.StringVar(&args.variantsFile, "variants", "", "TOML table of ABI variants")
	fs.StringVar(&args.configFile, "config", ConfigFile, "KEY=VALUE configuration file")
	fs.BoolVar(&args.debug, "debug", false, "Print debug output")
	fs.BoolVar(&args.verbose, "verbose", false, "Print progress")
	fs.BoolVar(&args.version, "version", false, "Print version and exit")
	return fs
}

// parseArgs parses the command line in order.
func parseArgs(argv []string, output io.Writer) (*cliArgs, error) {
	args := &cliArgs{}
	fs := newFlagSet(args, output)
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return args, nil
}

func printHelp(fs *flag.FlagSet) {
	colSuccess.Println("Usage: finalize --build-id-file FILE --output FILE [--manifest FILE]... [options]")
	fmt.Println()
	colInfo.Println("Options:")
	fs.PrintDefaults()
}

// Main is the command entry point.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			colError.Printf("Received %v. Cancelling\n", sig)
			cancel()
			select {
			case <-sigs:
				colArrow.Print("\n-> ")
				colError.Printf("Second interrupt received. Forcing immediate exit.\n")
				os.Exit(130)
			case <-time.After(5 * time.Second):
				colArrow.Print("\n-> ")
				colError.Printf("Graceful shutdown timeout. Exiting.\n")
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	os.Exit(run(ctx, os.Args[1:]))
}

func run(ctx context.Context, argv []string) int {
	args, err := parseArgs(argv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		colArrow.Print("-> ")
		colError.Printf("ERROR: %v\n", err)
		return 2
	}
	if args.version {
		fmt.Printf("finalize %s\n", version)
		return 0
	}

	result, err := runFinalize(ctx, args)
	if err != nil {
		colArrow.Print("-> ")
		colError.Printf("ERROR: %v\n", err)
		return 1
	}

	for _, file := range result.Written {
		verbosef("Wrote %s\n", file)
	}
	for _, file := range result.Unchanged {
		debugf("Unchanged %s\n", file)
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Finalized %d binaries (%d debug files), %d files updated\n",
		len(result.Binaries), len(result.DebugFiles), len(result.Written))
	return 0
}

func runFinalize(ctx context.Context, args *cliArgs) (*Result, error) {
	configFile := args.configFile
	if configFile == "" {
		configFile = os.Getenv("FINALIZE_CONFIG")
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	initConfig(cfg)
	if args.debug {
		Debug = true
	}
	if args.verbose {
		Verbose = true
	}
	if args.strippedDir != "" {
		cfg.StrippedDir = args.strippedDir
	}
	if args.variantsFile != "" {
		cfg.VariantsFile = args.variantsFile
	}

	variants, err := LoadVariants(cfg.VariantsFile, cfg.SharedToolchain)
	if err != nil {
		return nil, err
	}

	provider := &ELFProvider{StripTool: cfg.StripTool, Exec: NewExecutor(ctx)}
	f := NewFinalizer(provider, variants, cfg.StrippedDir)

	if args.opts.UploadSymbols {
		store, err := NewSymbolStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if store != nil {
			f.Uploader = store
		}
	}

	return f.Run(ctx, args.opts)
}
