// Package fetch downloads the files a manifest declares into a staging
// directory, optionally post-processing each one (e.g. bytecode
// compilation) before it is handed off to the archiver.
package fetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/arduino/upy-packager/internal/cache"
	"github.com/arduino/upy-packager/internal/httpx"
	"github.com/arduino/upy-packager/pkg/manifest"
	"github.com/arduino/upy-packager/pkg/source"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// NewStagingDir creates a fresh, disposable scratch directory under root
// (the system temp dir when root is empty) named after a random UUID, so
// concurrent packager runs never collide on a staging path.
func NewStagingDir(root string) (string, error) {
	dir := filepath.Join(root, uuid.NewString())
	if root == "" {
		dir = filepath.Join(os.TempDir(), uuid.NewString())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating staging directory")
	}
	return dir, nil
}

// DownloadFailed is returned when a file's source cannot be retrieved.
var DownloadFailed = errors.New("download failed")

// ProcessHook runs against a freshly-written file and may replace it (the
// compiler adapter uses this to swap a .py path for a .mpy one). Returning
// the same path is a no-op.
type ProcessHook func(writtenPath string) (finalPath string, err error)

// Fetcher downloads manifest-declared files into a staging directory.
type Fetcher struct {
	Client httpx.BasicClient

	// Cache, if non-nil, coalesces concurrent/repeat downloads of the same
	// rewritten URL within one run (e.g. two manifests naming the same
	// source file). It never persists across Fetcher instances.
	Cache cache.Cache
}

// FetchManifest downloads every URL entry of m into stagingDir, rewriting
// each source through pkg/source with ref, running hook (if non-nil) on
// each written file. It returns only an error (the first download, write or
// hook failure); the written paths are not reported. Downloads within the
// manifest run concurrently; none is ordered with respect to the others,
// matching the concurrency model's "no ordering guarantee" for C3.
func (f *Fetcher) FetchManifest(ctx context.Context, m manifest.Manifest, stagingDir, ref string, hook ProcessHook) error {
	eg, eCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())
	for _, u := range m.URLs {
		u := u
		eg.Go(func() error {
			_, err := f.fetchOne(eCtx, u, stagingDir, ref, hook)
			return err
		})
	}
	return eg.Wait()
}

// fetchOne implements the single-file contract of C3: translate the source
// URL, create intermediate directories, stream the body to disk, then run
// the optional post-process hook.
func (f *Fetcher) fetchOne(ctx context.Context, u manifest.URLEntry, stagingDir, ref string, hook ProcessHook) (string, error) {
	rewritten, err := source.RewriteURL(u.SourceURL, ref)
	if err != nil {
		return "", errors.Wrapf(err, "rewriting %s", u.SourceURL)
	}
	destPath := filepath.Join(stagingDir, filepath.FromSlash(u.TargetRelPath))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", errors.Wrapf(err, "creating directory for %s", destPath)
	}
	body, err := f.fetchBody(ctx, rewritten)
	if err != nil {
		return "", errors.Wrapf(DownloadFailed, "%s: %s", rewritten, err)
	}
	if err := os.WriteFile(destPath, body, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %s", destPath)
	}
	finalPath := destPath
	if hook != nil {
		processed, err := hook(destPath)
		if err != nil {
			return "", errors.Wrapf(err, "processing %s", destPath)
		}
		if processed != destPath {
			if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
				return "", errors.Wrapf(err, "removing pre-process file %s", destPath)
			}
			finalPath = processed
		}
	}
	return finalPath, nil
}

// fetchBody retrieves url's body, routing through f.Cache (when set) so
// concurrent or repeat requests for the same URL within one run share a
// single download.
func (f *Fetcher) fetchBody(ctx context.Context, url string) ([]byte, error) {
	if f.Cache == nil {
		return f.download(ctx, url)
	}
	v, err := f.Cache.GetOrSet(url, func() (any, error) {
		return f.download(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
