package manifest

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/arduino/upy-packager/internal/httpx"
	"github.com/arduino/upy-packager/internal/semverx"
	"github.com/arduino/upy-packager/pkg/source"
	"github.com/pkg/errors"
)

// Failure modes named in the spec's error taxonomy for this component.
var (
	ManifestUnavailable  = errors.New("manifest unavailable")
	UnsupportedSource    = errors.New("unsupported source")
	MissingUrlsAndHashes = errors.New("manifest has neither urls nor hashes")
)

// Resolver fetches manifests and walks their dependency graphs.
type Resolver struct {
	Client   httpx.BasicClient
	IndexURL string // base URL of the central package index, e.g. "https://micropython.org/pi"
	// Warn receives non-fatal diagnostics (urls/hashes ambiguity, version
	// token ambiguity). Nil is safe: warnings are then dropped.
	Warn func(string)
}

// node identifies one point in the dependency graph for cycle detection;
// see the spec's "Cyclic dependencies" design note. identity is derived the
// same way whether the ref is the root or reached via a dep entry, so the
// same package at the same version is recognized as the same node either
// way.
type node struct {
	identity string
	version  string
}

// Resolve walks the dependency graph rooted at ref, returning every
// manifest in DFS emission order (first is the root) plus the union of
// their declared target-relative paths. fmtToken is the bytecode format
// token used for index lookups ("py" or a format's major version as a
// string); it is unused for repo/direct sources. override, if non-nil,
// replaces the fetch for the root node only.
func (r *Resolver) Resolve(ctx context.Context, ref source.Ref, version, fmtToken string, override *Manifest) (manifests []*Manifest, packageFiles []string, err error) {
	visited := map[node]bool{}
	var walk func(ref source.Ref, version string, overrideRoot *Manifest) error
	walk = func(ref source.Ref, version string, overrideRoot *Manifest) error {
		key := node{identity: refIdentity(ref), version: version}
		if visited[key] {
			return nil
		}
		visited[key] = true
		var m Manifest
		if overrideRoot != nil {
			m = *overrideRoot
		} else {
			var ferr error
			m, ferr = r.fetchManifest(ctx, ref, version, fmtToken)
			if ferr != nil {
				return ferr
			}
		}
		manifests = append(manifests, &m)
		for _, u := range m.URLs {
			packageFiles = append(packageFiles, u.TargetRelPath)
		}
		for _, d := range m.Deps {
			depRef := source.Parse(d.URLOrName)
			depVersion := d.Version
			if depVersion == "" {
				depVersion = defaultVersion(depRef)
			} else if semverx.IsAmbiguousVersion(depVersion) && r.Warn != nil {
				r.Warn("dependency " + d.URLOrName + " declares version " + depVersion + ", which is neither a recognizable semver nor HEAD/latest")
			}
			if err := walk(depRef, depVersion, nil); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(ref, version, override); err != nil {
		return nil, nil, err
	}
	return manifests, packageFiles, nil
}

// defaultVersion implements the spec's default-version rule for
// dependencies with no declared version: "HEAD" for repo deps, "latest"
// for index deps.
func defaultVersion(ref source.Ref) string {
	if ref.Kind == source.KindIndexPackage {
		return "latest"
	}
	return "HEAD"
}

func refIdentity(ref source.Ref) string {
	switch ref.Kind {
	case source.KindShortRepo:
		return "short:" + string(ref.Repo) + ":" + ref.Owner + "/" + ref.RepoName + "/" + ref.Subpath
	case source.KindHttpRepo:
		return "http:" + ref.URL
	case source.KindIndexPackage:
		return "index:" + ref.Name
	case source.KindDirectFile:
		return "direct:" + ref.URL
	default:
		return ""
	}
}

func (r *Resolver) fetchManifest(ctx context.Context, ref source.Ref, version, fmtToken string) (Manifest, error) {
	switch ref.Kind {
	case source.KindShortRepo, source.KindHttpRepo:
		base, err := source.Rewrite(ref, version)
		if err != nil {
			return Manifest{}, errors.Wrap(err, "rewriting manifest source")
		}
		manifestURL := joinPath(base, "package.json")
		body, err := r.get(ctx, manifestURL)
		if err != nil {
			return Manifest{}, errors.Wrapf(ManifestUnavailable, "%s: %s", manifestURL, err)
		}
		w, err := parseWireManifest(body)
		if err != nil {
			return Manifest{}, errors.Wrap(ManifestUnavailable, err.Error())
		}
		return w.toManifest(r.Warn)
	case source.KindIndexPackage:
		if r.IndexURL == "" {
			return Manifest{}, errors.Wrap(ManifestUnavailable, "no package index configured")
		}
		indexVersion := version
		if indexVersion == "" {
			indexVersion = "latest"
		}
		descURL := joinPath(r.IndexURL, "package", fmtToken, ref.Name, indexVersion+".json")
		body, err := r.get(ctx, descURL)
		if err != nil {
			return Manifest{}, errors.Wrapf(ManifestUnavailable, "%s: %s", descURL, err)
		}
		w, err := parseWireManifest(body)
		if err != nil {
			return Manifest{}, errors.Wrap(ManifestUnavailable, err.Error())
		}
		m, err := w.toManifest(r.Warn)
		if err != nil {
			return Manifest{}, err
		}
		return r.adaptIndexHashes(m), nil
	case source.KindDirectFile:
		if !strings.HasPrefix(ref.URL, "http://") && !strings.HasPrefix(ref.URL, "https://") {
			return Manifest{}, errors.Wrapf(UnsupportedSource, "%s", ref.URL)
		}
		return Manifest{URLs: []URLEntry{{TargetRelPath: path.Base(ref.Filename), SourceURL: ref.URL}}}, nil
	default:
		return Manifest{}, errors.Errorf("unrecognized source kind %v", ref.Kind)
	}
}

// adaptIndexHashes converts an index manifest's content hashes into the
// urls shape the rest of the pipeline consumes, using the index's
// content-addressed file URL template.
func (r *Resolver) adaptIndexHashes(m Manifest) Manifest {
	if len(m.Hashes) == 0 {
		return m
	}
	for _, h := range m.Hashes {
		fileURL := joinPath(r.IndexURL, "file", h.ContentHash[:2], h.ContentHash)
		m.URLs = append(m.URLs, URLEntry{TargetRelPath: h.TargetRelPath, SourceURL: fileURL})
	}
	return m
}

func (r *Resolver) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func joinPath(base string, segs ...string) string {
	u := strings.TrimRight(base, "/")
	for _, s := range segs {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		u += "/" + s
	}
	return u
}
