// Package source identifies and normalizes references to MicroPython
// package sources: a short-form git forge reference, a raw HTTP(S) URL, a
// bare package index name, or a direct source/bytecode file URL.
package source

import (
	"path"
	"strings"
)

// Host is a supported short-form git forge.
type Host string

const (
	HostGitHub Host = "github"
	HostGitLab Host = "gitlab"
)

// Ref identifies where to fetch a package from. Exactly one of the Short*,
// Http, Index, or Direct fields is populated; callers switch on Kind.
type Ref struct {
	Kind Kind

	// ShortRepo
	Repo Host
	Owner,
	RepoName,
	Subpath string

	// HttpRepo
	URL string

	// IndexPackage
	Name string

	// DirectFile
	Filename string
}

// Kind discriminates the Ref variants.
type Kind int

const (
	KindShortRepo Kind = iota
	KindHttpRepo
	KindIndexPackage
	KindDirectFile
)

var directFileExts = []string{".py", ".mpy"}

// Parse classifies a user-supplied source string into a Ref. It never
// fails: anything that isn't recognizably a short-form reference, an
// http(s) URL, or a direct file falls back to KindIndexPackage, which is
// the bare-identifier case in the spec's data model.
func Parse(input string) Ref {
	input = strings.TrimSpace(input)
	if host, rest, ok := splitShortForm(input); ok {
		owner, repo, subpath := splitOwnerRepo(rest)
		return Ref{Kind: KindShortRepo, Repo: host, Owner: owner, RepoName: repo, Subpath: subpath}
	}
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		if isDirectFile(input) {
			return Ref{Kind: KindDirectFile, URL: input, Filename: path.Base(stripQuery(input))}
		}
		if host, owner, repo, subpath, ok := splitForgeHTTPURL(input); ok {
			return Ref{Kind: KindShortRepo, Repo: host, Owner: owner, RepoName: repo, Subpath: subpath}
		}
		return Ref{Kind: KindHttpRepo, URL: input}
	}
	return Ref{Kind: KindIndexPackage, Name: input}
}

func isDirectFile(url string) bool {
	base := path.Base(stripQuery(url))
	for _, ext := range directFileExts {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

func stripQuery(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}

func splitShortForm(input string) (Host, string, bool) {
	for _, h := range []Host{HostGitHub, HostGitLab} {
		prefix := string(h) + ":"
		if strings.HasPrefix(input, prefix) {
			return h, strings.TrimPrefix(input, prefix), true
		}
	}
	return "", "", false
}

func splitForgeHTTPURL(url string) (host Host, owner, repo, subpath string, ok bool) {
	for h, marker := range map[Host]string{HostGitHub: "github.com/", HostGitLab: "gitlab.com/"} {
		if i := strings.Index(url, marker); i >= 0 {
			rest := url[i+len(marker):]
			o, r, s := splitOwnerRepo(rest)
			return h, o, r, s, true
		}
	}
	return "", "", "", "", false
}

// splitOwnerRepo splits "owner/repo[/subpath...]" and trims a trailing
// ".git" off the repo segment.
func splitOwnerRepo(rest string) (owner, repo, subpath string) {
	rest = strings.Trim(rest, "/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) > 0 {
		owner = parts[0]
	}
	if len(parts) > 1 {
		repo = strings.TrimSuffix(parts[1], ".git")
	}
	if len(parts) > 2 {
		subpath = parts[2]
	}
	return owner, repo, subpath
}
