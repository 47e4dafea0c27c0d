package source

import (
	"strings"

	"github.com/pkg/errors"
)

// MalformedSource is returned when a short-form reference is truncated
// (fewer than an owner+repo pair).
var MalformedSource = errors.New("malformed source reference")

// Rewrite normalizes a Ref plus a version token into a raw-content URL. ref
// is the requested version; an empty string or "HEAD" means the default
// branch's latest commit, which both forges resolve for free when used as
// the path segment.
//
//	github:owner/repo[/subpath]  -> https://raw.githubusercontent.com/owner/repo/<ref>/subpath
//	gitlab:owner/repo[/subpath]  -> https://gitlab.com/owner/repo/-/raw/<ref>/subpath
//	https://github.com/... , https://gitlab.com/...  -> folded into the above
//	any other http(s) URL -> returned unchanged
//
// Rewrite is pure and idempotent on inputs that are already raw: feeding
// the output of Rewrite back in with the same ref returns the same string.
func Rewrite(r Ref, ref string) (string, error) {
	token := refToken(ref)
	switch r.Kind {
	case KindShortRepo:
		if r.Owner == "" || r.RepoName == "" {
			return "", errors.Wrapf(MalformedSource, "%s:%s/%s", r.Repo, r.Owner, r.RepoName)
		}
		switch r.Repo {
		case HostGitHub:
			return joinURL("https://raw.githubusercontent.com", r.Owner, r.RepoName, token, r.Subpath), nil
		case HostGitLab:
			return joinURL("https://gitlab.com", r.Owner, r.RepoName, "-", "raw", token, r.Subpath), nil
		default:
			return "", errors.Errorf("unsupported forge host %q", r.Repo)
		}
	case KindHttpRepo, KindDirectFile:
		return r.URL, nil
	default:
		return "", errors.Errorf("%v has no raw-content URL", r.Kind)
	}
}

// RewriteURL is a convenience entry point for callers holding a raw source
// string rather than an already-parsed Ref (e.g. a dependency's declared
// URL inside a manifest).
func RewriteURL(rawSource, ref string) (string, error) {
	return Rewrite(Parse(rawSource), ref)
}

// refToken translates a requested version into the token the host expects
// in the URL path. An empty ref or the literal "HEAD" becomes "HEAD", which
// both raw.githubusercontent.com and gitlab.com's raw endpoint resolve to
// the default branch's latest commit.
func refToken(ref string) string {
	if ref == "" || ref == "HEAD" {
		return "HEAD"
	}
	return ref
}

func joinURL(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	out := nonEmpty[0]
	for _, p := range nonEmpty[1:] {
		out += "/" + p
	}
	return out
}
