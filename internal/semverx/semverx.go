// Package semverx provides light version-string validation, not solving:
// the resolver never picks among candidate versions (that stays a
// non-goal), it only needs to tell a real semantic version apart from a
// git ref or an ambiguous token so it can warn instead of guessing wrong.
package semverx

import "github.com/Masterminds/semver/v3"

// LooksLikeSemver reports whether v parses as a semantic version, tolerant
// of a leading "v" the way git tags commonly carry one.
func LooksLikeSemver(v string) bool {
	_, err := semver.NewVersion(v)
	return err == nil
}

// IsAmbiguousVersion reports whether v is a declared dependency version
// that is neither a recognizable semver nor one of the pipeline's two
// default-version tokens ("HEAD", "latest"). Such a value is most likely a
// branch name or commit-ish being used where a released version was
// expected; the caller should warn rather than fail, since the spec keeps
// version resolution naive by design.
func IsAmbiguousVersion(v string) bool {
	if v == "" || v == "HEAD" || v == "latest" {
		return false
	}
	return !LooksLikeSemver(v)
}
