// Package install implements the installer orchestrator (C11): upload,
// verify, and extract an already-built archive onto a board's library
// path, refusing to clobber existing content unless asked to.
package install

import (
	"path"
	"strings"

	"github.com/arduino/upy-packager/internal/metrics"
	"github.com/arduino/upy-packager/pkg/board"
	"github.com/arduino/upy-packager/pkg/extract"
	"github.com/arduino/upy-packager/pkg/transfer"
	"github.com/arduino/upy-packager/pkg/verify"
	"github.com/pkg/errors"
)

// WouldOverwriteFile/WouldOverwriteFolder are returned by Install when
// overwriteExisting is false and installation would replace existing
// on-device content.
var (
	WouldOverwriteFile   = errors.New("installation would overwrite an existing file")
	WouldOverwriteFolder = errors.New("installation would overwrite an existing folder")
)

// State is one point in the §4.11 install state machine.
type State int

const (
	Staged State = iota
	Uploaded
	Verified
	Extracted
	Cleaned
	Cleaning
)

func (s State) String() string {
	switch s {
	case Staged:
		return "Staged"
	case Uploaded:
		return "Uploaded"
	case Verified:
		return "Verified"
	case Extracted:
		return "Extracted"
	case Cleaned:
		return "Cleaned"
	case Cleaning:
		return "Cleaning"
	default:
		return "Unknown"
	}
}

const removeDirHelper = "" +
	"import os\n" +
	"def remove_directory_recursive(path):\n" +
	"    for name in os.listdir(path):\n" +
	"        full = path + '/' + name\n" +
	"        if os.stat(full)[0] & 0x4000:\n" +
	"            remove_directory_recursive(full)\n" +
	"        else:\n" +
	"            os.remove(full)\n" +
	"    os.rmdir(path)\n"

// Installer drives a board Session through upload, verification,
// extraction, and cleanup of one archive.
type Installer struct {
	Session   *board.Session
	Inspector *board.Inspector

	// OnState, if non-nil, is called on every state transition.
	OnState func(State)
	// OnProgress, if non-nil, forwards C8's upload progress.
	OnProgress func(percent int)
	// LibraryPath, if non-empty, overrides the Inspector's on-device
	// sys.path lookup (a config-file default for a board whose library
	// directory isn't discoverable or needs pinning).
	LibraryPath string
	// ChunkSize, if non-zero, overrides transfer.Writer's default upload
	// chunk size.
	ChunkSize int
}

// Install uploads archivePath (named by archive.Name) to the root of the
// board's filesystem and extracts it into the board's library directory,
// removing the uploaded archive afterwards, and refusing to overwrite existing
// content unless overwriteExisting is true. packageFiles is the declared
// union of target-relative paths the archive contains, used to derive
// which top-level files/folders would collide.
func (in *Installer) Install(archivePath string, packageFiles []string, overwriteExisting bool) (err error) {
	in.transition(Staged)

	libPath := in.LibraryPath
	if libPath == "" {
		var ierr error
		libPath, ierr = in.Inspector.LibraryPath()
		if ierr != nil {
			return errors.Wrap(ierr, "resolving library path")
		}
	}
	if libPath == "" {
		libPath = "/lib"
	}

	folders, files := splitPackageFiles(packageFiles)

	for _, f := range files {
		exists, eerr := in.pathExists(libPath + "/" + f)
		if eerr != nil {
			return eerr
		}
		if exists && !overwriteExisting {
			return WouldOverwriteFile
		}
	}
	for _, folder := range folders {
		exists, eerr := in.pathExists(libPath + "/" + folder)
		if eerr != nil {
			return eerr
		}
		if !exists {
			continue
		}
		if !overwriteExisting {
			return WouldOverwriteFolder
		}
		if rerr := in.removeDirectory(libPath + "/" + folder); rerr != nil {
			return rerr
		}
	}

	archiveName := path.Base(archivePath)
	devicePath := "/" + archiveName

	defer func() {
		in.transition(Cleaning)
		cerr := in.Session.EnterRawMode()
		if cerr == nil {
			cerr = in.Session.RemoveFile(devicePath)
			in.Session.ExitRawMode()
		}
		if cerr != nil && err == nil {
			err = errors.Wrap(cerr, "cleaning up remote archive")
		}
		final := Cleaning
		if err == nil {
			final = Cleaned
			in.transition(Cleaned)
		}
		metrics.InstallOutcomesTotal.WithLabelValues(final.String()).Inc()
	}()

	w := &transfer.Writer{Session: in.Session, ChunkSize: in.ChunkSize}
	if err := w.WriteFile(archivePath, devicePath, in.OnProgress); err != nil {
		return errors.Wrap(err, "uploading archive")
	}
	in.transition(Uploaded)

	v := &verify.Verifier{Session: in.Session}
	if err := v.Verify(archivePath, devicePath); err != nil {
		return err
	}
	in.transition(Verified)

	ex := &extract.Extractor{Session: in.Session}
	if err := ex.Extract(devicePath, libPath); err != nil {
		return err
	}
	in.transition(Extracted)

	return nil
}

func (in *Installer) transition(s State) {
	if in.OnState != nil {
		in.OnState(s)
	}
}

func (in *Installer) pathExists(devicePath string) (bool, error) {
	if err := in.Session.EnterRawMode(); err != nil {
		return false, err
	}
	defer in.Session.ExitRawMode()
	reply, err := in.Session.ExecStatement(
		"import os\n" +
			"try:\n" +
			"    os.stat(" + board.QuotePythonString(devicePath) + ")\n" +
			"    print(1)\n" +
			"except OSError:\n" +
			"    print(0)\n")
	if err != nil {
		return false, err
	}
	return reply.Stdout == "1", nil
}

func (in *Installer) removeDirectory(devicePath string) error {
	if err := in.Session.EnterRawMode(); err != nil {
		return err
	}
	defer in.Session.ExitRawMode()
	if _, err := in.Session.ExecStatement(removeDirHelper); err != nil {
		return errors.Wrap(err, "installing remove_directory_recursive")
	}
	reply, err := in.Session.ExecStatement("remove_directory_recursive(" + board.QuotePythonString(devicePath) + ")\n")
	if err != nil {
		return errors.Wrap(err, "removing existing folder")
	}
	if reply.Stderr != "" {
		return errors.Errorf("removing %s: %s", devicePath, reply.Stderr)
	}
	return nil
}

// splitPackageFiles derives packageFolders (the set of first path
// components of entries containing '/') and lookseFiles (entries with no
// '/', i.e. at the archive root) per §4.11 step 2.
func splitPackageFiles(packageFiles []string) (folders, files []string) {
	seen := map[string]bool{}
	for _, f := range packageFiles {
		if idx := strings.Index(f, "/"); idx >= 0 {
			folder := f[:idx]
			if !seen[folder] {
				seen[folder] = true
				folders = append(folders, folder)
			}
			continue
		}
		files = append(files, f)
	}
	return folders, files
}
