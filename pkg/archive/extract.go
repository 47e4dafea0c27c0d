package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// ExtractTarGz writes the contents of a gzip tar archive into fsys, rooted
// at fsys's own base. It exists to let tests verify an archive Create
// produced is a faithful, self-contained encoding of the staging tree (the
// §8 round-trip property) without depending on the on-device extractor,
// which is a separate, bytecode-side implementation (pkg/extract).
func ExtractTarGz(r io.Reader, fsys billy.Filesystem) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.Clean(h.Name)
		if slices.Contains(strings.Split(name, string(filepath.Separator)), "..") {
			continue
		}
		if h.FileInfo().IsDir() {
			if err := fsys.MkdirAll(name, h.FileInfo().Mode()); err != nil {
				return err
			}
			continue
		}
		if err := fsys.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return err
		}
		wf, err := fsys.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, h.FileInfo().Mode())
		if err != nil {
			return err
		}
		if _, err := io.CopyN(wf, tr, h.Size); err != nil {
			wf.Close()
			return err
		}
		if err := wf.Close(); err != nil {
			return err
		}
	}
}
