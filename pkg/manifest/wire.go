package manifest

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// wireManifest mirrors the two JSON shapes documented in the spec's
// external interfaces: a repository manifest carries "urls"; an index
// manifest carries "hashes". Both may carry "deps". A document is decoded
// once into this permissive shape and then resolved into a Manifest by
// toManifest, which implements the urls-vs-hashes precedence policy.
type wireManifest struct {
	Name    string     `json:"name"`
	Version string     `json:"version"`
	URLs    [][]string `json:"urls"`
	Hashes  [][]string `json:"hashes"`
	Deps    [][]string `json:"deps"`
}

func parseWireManifest(body []byte) (wireManifest, error) {
	var w wireManifest
	if err := json.Unmarshal(body, &w); err != nil {
		return wireManifest{}, errors.Wrap(err, "invalid manifest JSON")
	}
	return w, nil
}

// toManifest converts the permissive wire form into the domain Manifest.
// The spec's open question on urls-vs-hashes precedence is resolved here:
// hashes is treated as authoritative when both are present, with a warning
// surfaced through warn (nil-safe, so callers that don't care can pass a
// no-op).
func (w wireManifest) toManifest(warn func(string)) (Manifest, error) {
	if warn == nil {
		warn = func(string) {}
	}
	m := Manifest{Name: w.Name, Version: w.Version}
	for _, d := range w.Deps {
		switch len(d) {
		case 1:
			m.Deps = append(m.Deps, DepEntry{URLOrName: d[0]})
		case 2:
			m.Deps = append(m.Deps, DepEntry{URLOrName: d[0], Version: d[1]})
		default:
			return Manifest{}, errors.Errorf("malformed deps entry: %v", d)
		}
	}
	haveURLs, haveHashes := len(w.URLs) > 0, len(w.Hashes) > 0
	if haveURLs && haveHashes {
		warn("manifest carries both urls and hashes; hashes takes precedence")
	}
	switch {
	case haveHashes:
		for _, h := range w.Hashes {
			if len(h) != 2 {
				return Manifest{}, errors.Errorf("malformed hashes entry: %v", h)
			}
			m.Hashes = append(m.Hashes, HashEntry{TargetRelPath: h[0], ContentHash: h[1]})
		}
	case haveURLs:
		for _, u := range w.URLs {
			if len(u) != 2 {
				return Manifest{}, errors.Errorf("malformed urls entry: %v", u)
			}
			m.URLs = append(m.URLs, URLEntry{TargetRelPath: u[0], SourceURL: u[1]})
		}
	default:
		return Manifest{}, MissingUrlsAndHashes
	}
	return m, nil
}
