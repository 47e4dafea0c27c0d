// Command upy-packager is a thin CLI over pkg/packager: "package" builds a
// gzip tape archive from a source repo/index entry, "install" does the
// same and then uploads/verifies/extracts it onto a board over WebREPL.
// Both subcommands are out-of-scope collaborators around the core
// pipeline, not part of it.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/arduino/upy-packager/internal/cache"
	"github.com/arduino/upy-packager/internal/config"
	"github.com/arduino/upy-packager/internal/httpx"
	"github.com/arduino/upy-packager/internal/logx"
	"github.com/arduino/upy-packager/pkg/board"
	"github.com/arduino/upy-packager/pkg/board/webrepl"
	"github.com/arduino/upy-packager/pkg/compiler"
	"github.com/arduino/upy-packager/pkg/fetch"
	"github.com/arduino/upy-packager/pkg/install"
	"github.com/arduino/upy-packager/pkg/manifest"
	"github.com/arduino/upy-packager/pkg/packager"
	"github.com/cheggaaa/pb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	configPath  = flag.String("config", "", "path to a TOML config file (defaults unset)")
	indexURL    = flag.String("index-url", "", "base URL of the MicroPython package index")
	outDir      = flag.String("out", ".", "directory to write the built archive into")
	stagingRoot = flag.String("staging-root", "", "parent directory for the disposable staging tree (system temp when empty)")
	boardAddr   = flag.String("board", "", "WebREPL address (host:port) of the target board")
	boardPass   = flag.String("password", "", "WebREPL login password")
	overwrite   = flag.Bool("overwrite", false, "overwrite an already-installed package")
	quiet       = flag.Bool("quiet", false, "suppress informational progress output")
	compile     = flag.Bool("compile", false, "cross-compile sources to bytecode for the connected board when mpy-cross is available")
	compilerBin = flag.String("compiler", "mpy-cross", "path or name of the mpy-cross binary")
)

var rootCmd = &cobra.Command{
	Use:   "upy-packager",
	Short: "Build and install MicroPython packages",
}

var packageCmd = &cobra.Command{
	Use:   "package <source> [version]",
	Short: "Fetch, resolve, and archive a package without installing it",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		l := &logx.Logger{Quiet: *quiet}
		p, _, err := newPackager(l)
		if err != nil {
			log.Fatal(err)
		}
		version := ""
		if len(args) > 1 {
			version = args[1]
		}
		result, _, err := p.Package(cmd.Context(), args[0], version, nil, false)
		if err != nil {
			l.Error("%s", err)
			log.Fatal(err)
		}
		l.Success("built %s (%d files)", result.ArchivePath, len(result.PackageFiles))
	},
}

var installCmd = &cobra.Command{
	Use:   "install <source> [version]",
	Short: "Fetch, archive, and install a package onto a board",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		l := &logx.Logger{Quiet: *quiet}
		if *boardAddr == "" {
			log.Fatal(errors.New("--board is required for install"))
		}
		p, _, err := newPackager(l)
		if err != nil {
			log.Fatal(err)
		}
		p.Open = func(ctx context.Context) (board.Channel, error) {
			return webrepl.Dial(*boardAddr, *boardPass)
		}
		version := ""
		if len(args) > 1 {
			version = args[1]
		}

		var onProgress func(percent int)
		var bar *pb.ProgressBar
		if !*quiet {
			bar = pb.New(100)
			bar.Output = os.Stderr
			bar.ShowTimeLeft = true
			bar.Start()
			onProgress = func(percent int) { bar.Set(percent) }
		}

		err = p.PackageAndInstall(cmd.Context(), args[0], version, nil, *overwrite,
			onProgress,
			func(s install.State) { l.Info("state: %s", s) })
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			l.Error("%s", err)
			log.Fatal(err)
		}
		l.Success("installed %s", args[0])
	},
}

func newPackager(l *logx.Logger) (*packager.Packager, config.Config, error) {
	cfg := config.Config{IndexURL: *indexURL, StagingRoot: *stagingRoot}
	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			return nil, config.Config{}, err
		}
		cfg = config.Merge(cfg, fileCfg)
	}
	client := &httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "upy-packager/1"}
	warn := func(msg string) { l.Warn("%s", msg) }
	p := &packager.Packager{
		Resolver: &manifest.Resolver{
			Client:   client,
			IndexURL: cfg.IndexURL,
			Warn:     warn,
		},
		Fetcher: &fetch.Fetcher{
			Client: client,
			Cache:  &cache.CoalescingMemoryCache{},
		},
		Warn:           warn,
		StagingRoot:    cfg.StagingRoot,
		OutDir:         filepath.Clean(*outDir),
		RawModeTimeout: time.Duration(cfg.RawModeTimeout),
		ChunkSize:      cfg.ChunkSize,
		LibraryPath:    cfg.LibraryPath,
	}
	if *compile {
		adapter, err := compiler.Locate(compiler.NewCommandExecutor(), *compilerBin)
		if err != nil {
			return nil, config.Config{}, errors.Wrap(err, "locating compiler")
		}
		if adapter == nil {
			l.Warn("--compile set but %q was not found, shipping source", *compilerBin)
		} else {
			p.Compiler = adapter
			p.CompileFiles = true
		}
	}
	return p, cfg, nil
}

func init() {
	rootCmd.AddCommand(packageCmd)
	rootCmd.AddCommand(installCmd)
	for _, cmd := range []*cobra.Command{packageCmd, installCmd} {
		cmd.Flags().AddGoFlag(flag.Lookup("config"))
		cmd.Flags().AddGoFlag(flag.Lookup("index-url"))
		cmd.Flags().AddGoFlag(flag.Lookup("out"))
		cmd.Flags().AddGoFlag(flag.Lookup("staging-root"))
		cmd.Flags().AddGoFlag(flag.Lookup("quiet"))
		cmd.Flags().AddGoFlag(flag.Lookup("compile"))
		cmd.Flags().AddGoFlag(flag.Lookup("compiler"))
	}
	installCmd.Flags().AddGoFlag(flag.Lookup("board"))
	installCmd.Flags().AddGoFlag(flag.Lookup("password"))
	installCmd.Flags().AddGoFlag(flag.Lookup("overwrite"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
