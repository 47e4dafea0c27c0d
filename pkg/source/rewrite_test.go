package source

import "testing"

func TestRewrite(t *testing.T) {
	cases := []struct {
		name  string
		input string
		ref   string
		want  string
	}{
		{
			name:  "github HEAD",
			input: "github:arduino/arduino-modulino-mpy",
			ref:   "",
			want:  "https://raw.githubusercontent.com/arduino/arduino-modulino-mpy/HEAD/package.json",
		},
		{
			name:  "github pinned version",
			input: "github:arduino/arduino-modulino-mpy",
			ref:   "1.0.0",
			want:  "https://raw.githubusercontent.com/arduino/arduino-modulino-mpy/1.0.0/package.json",
		},
		{
			name:  "github with subpath",
			input: "github:arduino/modulino-mpy/src/modulino/__init__.py",
			ref:   "HEAD",
			want:  "https://raw.githubusercontent.com/arduino/modulino-mpy/HEAD/src/modulino/__init__.py",
		},
		{
			name:  "gitlab",
			input: "gitlab:owner/repo/path/to/file.py",
			ref:   "v2.0.0",
			want:  "https://gitlab.com/owner/repo/-/raw/v2.0.0/path/to/file.py",
		},
		{
			name:  "already-raw http passes through",
			input: "https://example.com/some/file.py",
			ref:   "HEAD",
			want:  "https://example.com/some/file.py",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Parse(tc.input)
			got, err := Rewrite(r, tc.ref)
			if err != nil {
				t.Fatalf("Rewrite() failed: %v", err)
			}
			// Direct join with package.json for ShortRepo cases exercised via
			// manifest fetch paths; here we only validate the bare rewrite for
			// repo-root references and full paths for ones with subpaths.
			if r.Kind == KindShortRepo && r.Subpath == "" {
				got += "/package.json"
			}
			if got != tc.want {
				t.Fatalf("Rewrite(%q, %q) = %q, want %q", tc.input, tc.ref, got, tc.want)
			}
		})
	}
}

func TestRewriteIdempotent(t *testing.T) {
	urls := []string{
		"https://raw.githubusercontent.com/arduino/arduino-modulino-mpy/HEAD/package.json",
		"https://example.com/libs/foo.py",
	}
	for _, u := range urls {
		first, err := RewriteURL(u, "HEAD")
		if err != nil {
			t.Fatalf("RewriteURL() failed: %v", err)
		}
		second, err := RewriteURL(first, "HEAD")
		if err != nil {
			t.Fatalf("RewriteURL() failed: %v", err)
		}
		if first != second {
			t.Fatalf("rewrite not idempotent: %q != %q", first, second)
		}
	}
}

func TestRewriteMalformed(t *testing.T) {
	r := Ref{Kind: KindShortRepo, Repo: HostGitHub, Owner: "onlyowner"}
	if _, err := Rewrite(r, "HEAD"); err == nil {
		t.Fatal("expected error for truncated short-form reference")
	}
}
