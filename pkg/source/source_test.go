package source

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  Ref
	}{
		{
			name:  "short github",
			input: "github:arduino/arduino-modulino-mpy",
			want:  Ref{Kind: KindShortRepo, Repo: HostGitHub, Owner: "arduino", RepoName: "arduino-modulino-mpy"},
		},
		{
			name:  "short github with subpath",
			input: "github:arduino/modulino-mpy/src/modulino/__init__.py",
			want:  Ref{Kind: KindShortRepo, Repo: HostGitHub, Owner: "arduino", RepoName: "modulino-mpy", Subpath: "src/modulino/__init__.py"},
		},
		{
			name:  "short gitlab",
			input: "gitlab:owner/repo",
			want:  Ref{Kind: KindShortRepo, Repo: HostGitLab, Owner: "owner", RepoName: "repo"},
		},
		{
			name:  "http github folds to short form",
			input: "https://github.com/arduino/arduino-modulino-mpy",
			want:  Ref{Kind: KindShortRepo, Repo: HostGitHub, Owner: "arduino", RepoName: "arduino-modulino-mpy"},
		},
		{
			name:  "dot-git suffix trimmed",
			input: "https://github.com/arduino/arduino-modulino-mpy.git",
			want:  Ref{Kind: KindShortRepo, Repo: HostGitHub, Owner: "arduino", RepoName: "arduino-modulino-mpy"},
		},
		{
			name:  "direct py file",
			input: "https://example.com/libs/foo.py",
			want:  Ref{Kind: KindDirectFile, URL: "https://example.com/libs/foo.py", Filename: "foo.py"},
		},
		{
			name:  "direct mpy file",
			input: "https://example.com/libs/foo.mpy",
			want:  Ref{Kind: KindDirectFile, URL: "https://example.com/libs/foo.mpy", Filename: "foo.mpy"},
		},
		{
			name:  "already raw http",
			input: "https://raw.githubusercontent.com/arduino/arduino-modulino-mpy/HEAD/package.json",
			want:  Ref{Kind: KindHttpRepo, URL: "https://raw.githubusercontent.com/arduino/arduino-modulino-mpy/HEAD/package.json"},
		},
		{
			name:  "bare index name",
			input: "senml",
			want:  Ref{Kind: KindIndexPackage, Name: "senml"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.input)
			if got != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.input, got, tc.want)
			}
		})
	}
}
