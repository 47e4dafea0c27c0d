// Package packager implements the top-level pipeline (C12): inspect the
// board, resolve and build an archive (C1-C5), then optionally install it
// (C11). It is the one place that knows how all eleven other components
// compose.
package packager

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arduino/upy-packager/pkg/archive"
	"github.com/arduino/upy-packager/pkg/board"
	"github.com/arduino/upy-packager/pkg/compiler"
	"github.com/arduino/upy-packager/pkg/fetch"
	"github.com/arduino/upy-packager/pkg/install"
	"github.com/arduino/upy-packager/pkg/manifest"
	"github.com/arduino/upy-packager/pkg/source"
	"github.com/pkg/errors"
)

// boardPromptTimeout bounds how long Package waits for the board's prompt
// before giving up, per C6's waitForPrompt(timeout) contract.
const boardPromptTimeout = 10 * time.Second

// ArchiveResult is the product of Package: the local archive and the
// target-relative paths it contains.
type ArchiveResult = archive.Result

// OpenChannel dials the board and returns its duplex byte channel. The
// actual transport (serial, WebREPL) is an external collaborator; the
// packager only ever drives the board.Channel interface it returns.
type OpenChannel func(ctx context.Context) (board.Channel, error)

// Packager wires C1 (via pkg/source, used internally by C2/C3), C2
// (Resolver), C3 (Fetcher), C4 (compiler.Adapter, optional), and C5
// (archive.Create) into one pipeline, then C11 (install.Installer) for the
// combined operation.
type Packager struct {
	Resolver *manifest.Resolver
	Fetcher  *fetch.Fetcher
	Compiler *compiler.Adapter // nil when no compiler is installed
	Open     OpenChannel

	// CompileFiles enables the C4 cross-compilation step. When true and
	// Compiler is set, Package opens a board session up front to learn its bytecode format
	// and architecture even if the caller only wants an archive.
	CompileFiles bool

	// Warn receives non-fatal diagnostics (manifest ambiguity, compile
	// degrade). Nil is safe.
	Warn func(string)

	// StagingRoot is the parent directory under which per-package staging
	// trees are created (the system temp directory when empty).
	StagingRoot string
	// OutDir is where the finished archive is written (current directory
	// default when empty).
	OutDir string

	// RawModeTimeout overrides boardPromptTimeout when non-zero.
	RawModeTimeout time.Duration
	// ChunkSize overrides transfer.Writer's default upload chunk size when
	// non-zero, forwarded to install.Installer by PackageAndInstall.
	ChunkSize int
	// LibraryPath overrides the board's inspected library directory when
	// non-empty, forwarded to install.Installer by PackageAndInstall.
	LibraryPath string
}

func (p *Packager) warn(msg string) {
	if p.Warn != nil {
		p.Warn(msg)
	}
}

// Package resolves repoUrl (and its transitive deps), fetches every file,
// optionally cross-compiles it, and archives the result. If keepOpen is
// true and a board session was opened for compilation, it is left open and
// returned so PackageAndInstall can reuse it without redialing.
func (p *Packager) Package(ctx context.Context, repoUrl, version string, customManifest *manifest.Manifest, keepOpen bool) (res ArchiveResult, session *board.Session, err error) {
	ref := source.Parse(repoUrl)

	var insp *board.Inspector
	var arch string
	var boardFormat int
	if p.CompileFiles && p.Compiler != nil {
		session, err = p.openSession(ctx)
		if err != nil {
			return ArchiveResult{}, nil, err
		}
		insp = &board.Inspector{Session: session}
		arch, err = insp.Architecture()
		if err != nil {
			p.closeIfUnkept(session, keepOpen)
			return ArchiveResult{}, nil, errors.Wrap(err, "reading board architecture")
		}
		boardFormat, err = insp.MpyFormat()
		if err != nil {
			p.closeIfUnkept(session, keepOpen)
			return ArchiveResult{}, nil, errors.Wrap(err, "reading board mpy format")
		}
	}

	manifests, packageFiles, err := p.Resolver.Resolve(ctx, ref, version, fmtToken(boardFormat), customManifest)
	if err != nil {
		p.closeIfUnkept(session, keepOpen)
		return ArchiveResult{}, nil, err
	}

	stagingDir, err := fetch.NewStagingDir(p.StagingRoot)
	if err != nil {
		p.closeIfUnkept(session, keepOpen)
		return ArchiveResult{}, nil, err
	}
	defer os.RemoveAll(stagingDir)

	hook := p.compileHook(ctx, stagingDir, arch, boardFormat)
	for _, m := range manifests {
		if err := p.Fetcher.FetchManifest(ctx, *m, stagingDir, version, hook); err != nil {
			p.closeIfUnkept(session, keepOpen)
			return ArchiveResult{}, nil, err
		}
	}
	// A compiled file replaced its .py source in staging; archive the .mpy.
	for i, f := range packageFiles {
		if !strings.HasSuffix(f, ".py") {
			continue
		}
		if _, serr := os.Stat(filepath.Join(stagingDir, filepath.FromSlash(f))); os.IsNotExist(serr) {
			packageFiles[i] = strings.TrimSuffix(f, ".py") + ".mpy"
		}
	}

	root := manifests[0]
	packageName := root.Name
	if packageName == "" {
		packageName = archive.PackageNameFromURL(repoUrl)
	}
	versionToken := archive.VersionToken(root.Version, version)

	outDir := p.OutDir
	if outDir == "" {
		outDir = "."
	}
	result, err := archive.Create(stagingDir, outDir, packageName, versionToken, packageFiles)
	if err != nil {
		p.closeIfUnkept(session, keepOpen)
		return ArchiveResult{}, nil, err
	}

	if !keepOpen {
		p.closeIfUnkept(session, keepOpen)
		return result, nil, nil
	}
	return result, session, nil
}

// PackageAndInstall packages repoUrl then installs the result onto the
// board, guaranteeing the local archive file and the session are cleaned
// up on every exit path.
func (p *Packager) PackageAndInstall(ctx context.Context, repoUrl, version string, customManifest *manifest.Manifest, overwriteExisting bool, onProgress func(percent int), onState func(install.State)) (err error) {
	result, session, perr := p.Package(ctx, repoUrl, version, customManifest, true)
	if perr != nil {
		return perr
	}
	defer os.Remove(result.ArchivePath)

	if session == nil {
		session, err = p.openSession(ctx)
		if err != nil {
			return err
		}
	}
	defer session.Close()

	in := &install.Installer{
		Session:     session,
		Inspector:   &board.Inspector{Session: session},
		OnProgress:  onProgress,
		OnState:     onState,
		LibraryPath: p.LibraryPath,
		ChunkSize:   p.ChunkSize,
	}
	return in.Install(result.ArchivePath, result.PackageFiles, overwriteExisting)
}

func (p *Packager) openSession(ctx context.Context) (*board.Session, error) {
	if p.Open == nil {
		return nil, errors.New("no channel opener configured")
	}
	ch, err := p.Open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "opening board session")
	}
	timeout := p.RawModeTimeout
	if timeout <= 0 {
		timeout = boardPromptTimeout
	}
	s := &board.Session{}
	s.Open(ch)
	if err := s.WaitForPrompt(ctx, timeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (p *Packager) closeIfUnkept(session *board.Session, keepOpen bool) {
	if session != nil && !keepOpen {
		session.Close()
	}
}

// compileHook returns a fetch.ProcessHook that compiles each fetched file
// when a compiler is available and its format matches the board's;
// CompileFailed is recovered locally (warned, degraded to raw source) per
// the error propagation policy, since shipping source is always a valid
// fallback.
func (p *Packager) compileHook(ctx context.Context, stagingDir, arch string, boardFormat int) fetch.ProcessHook {
	if !p.CompileFiles || p.Compiler == nil || !p.Compiler.Supports(ctx, boardFormat) {
		return nil
	}
	return func(writtenPath string) (string, error) {
		out, err := p.Compiler.Compile(ctx, writtenPath, stagingDir, arch)
		if err != nil {
			p.warn("compile failed for " + writtenPath + ", shipping source: " + err.Error())
			return writtenPath, nil
		}
		return out, nil
	}
}

// fmtToken is the bytecode format token C2 uses for index lookups: "py"
// when no board format is known (no compile step), else the format's
// major version as a string.
func fmtToken(boardFormat int) string {
	if boardFormat == 0 {
		return "py"
	}
	return strconv.Itoa(boardFormat)
}
