// Package manifest resolves a package source into its manifest and walks
// its declared dependencies.
package manifest

// URLEntry is one (target-relative path, source URL) pair from a
// repository-style manifest's "urls" array.
type URLEntry struct {
	TargetRelPath string
	SourceURL     string
}

// HashEntry is one (target-relative path, content hash) pair from an
// index-style manifest's "hashes" array.
type HashEntry struct {
	TargetRelPath string
	ContentHash   string
}

// DepEntry is one entry from a manifest's "deps" array: a dependency
// reference (URL or bare index name) plus an optional declared version.
type DepEntry struct {
	URLOrName string
	Version   string // empty means unspecified
}

// Manifest is a package descriptor as retrieved from a repository's
// package.json or an index JSON document. Exactly one of URLs or Hashes is
// expected to be populated (the invariant from the spec's data model);
// Hashes is authoritative when both appear (see wire.go).
type Manifest struct {
	Name    string
	Version string
	URLs    []URLEntry
	Deps    []DepEntry
	Hashes  []HashEntry
}

// Empty reports whether the manifest has neither urls nor hashes, which is
// the MissingUrlsAndHashes failure condition.
func (m Manifest) Empty() bool {
	return len(m.URLs) == 0 && len(m.Hashes) == 0
}
