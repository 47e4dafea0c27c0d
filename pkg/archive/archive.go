// Package archive builds the gzip tape archive shipped to a board: the
// declared package files read from a staging directory, plus a directory
// entry for each of their parent directories, tarred and gzipped at the
// maximum compression level, with paths relative to the staging root.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
)

// ArchiveFailed wraps any error encountered while building the archive.
var ArchiveFailed = errors.New("archive creation failed")

// Result is the product of Create: the archive's local path and the union
// of target-relative paths it contains.
type Result struct {
	ArchivePath  string
	PackageFiles []string
}

// Create writes a gzip tar archive at filepath.Join(outDir,
// Name(packageName, version)), gzip level 9, containing each entry of
// packageFiles read from stagingDir, sorted by path for determinism, each
// preceded by directory entries for any parent directories not yet written.
// Files under stagingDir that packageFiles does not name are not archived.
// packageFiles is the declared union from the resolved manifests (§4.5);
// Create fails if any of them is missing under stagingDir, since a
// self-contained archive is one of the pipeline's invariants.
func Create(stagingDir, outDir, packageName, version string, packageFiles []string) (Result, error) {
	fsys := osfs.New(stagingDir)
	archivePath := filepath.Join(outDir, Name(packageName, version))
	out, err := os.Create(archivePath)
	if err != nil {
		return Result{}, errors.Wrap(ArchiveFailed, err.Error())
	}
	defer out.Close()

	gw, _ := gzip.NewWriterLevel(out, gzip.BestCompression)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	sorted := append([]string(nil), packageFiles...)
	sort.Strings(sorted)
	dirs := map[string]bool{}
	for _, rel := range sorted {
		for i, c := range rel {
			if c != '/' || dirs[rel[:i]] {
				continue
			}
			dirs[rel[:i]] = true
			hdr := &tar.Header{Typeflag: tar.TypeDir, Name: rel[:i], Mode: int64(fs.ModePerm)}
			if err := tw.WriteHeader(hdr); err != nil {
				return Result{}, errors.Wrapf(ArchiveFailed, "%s: %s", rel[:i], err)
			}
		}
		if err := writeEntry(tw, fsys, rel); err != nil {
			return Result{}, errors.Wrapf(ArchiveFailed, "%s: %s", rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		return Result{}, errors.Wrap(ArchiveFailed, err.Error())
	}
	if err := gw.Close(); err != nil {
		return Result{}, errors.Wrap(ArchiveFailed, err.Error())
	}
	return Result{ArchivePath: archivePath, PackageFiles: sorted}, nil
}

func writeEntry(tw *tar.Writer, fsys billy.Filesystem, rel string) error {
	info, err := fsys.Stat(rel)
	if err != nil {
		return err
	}
	f, err := fsys.Open(rel)
	if err != nil {
		return err
	}
	defer f.Close()
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Mode = int64(fs.ModePerm)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Name implements the §4.5 naming rule: "<packageName>-<version>.tar.gz".
func Name(packageName, version string) string {
	return packageName + "-" + version + ".tar.gz"
}

// PackageNameFromURL derives a package name from a root source URL when the
// manifest carries none: the last path segment, with a trailing ".git"
// stripped.
func PackageNameFromURL(rootURL string) string {
	base := path.Base(strings.TrimSuffix(rootURL, "/"))
	return strings.TrimSuffix(base, ".git")
}

// VersionToken implements the §4.5 version fallback: the manifest's
// version, else the requested ref stripped of a leading "v", else "latest"
// when the ref is the default branch.
func VersionToken(manifestVersion, requestedRef string) string {
	if manifestVersion != "" {
		return manifestVersion
	}
	if requestedRef == "" || requestedRef == "HEAD" {
		return "latest"
	}
	return strings.TrimPrefix(requestedRef, "v")
}
