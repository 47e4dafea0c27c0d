package packager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/arduino/upy-packager/pkg/board"
	"github.com/arduino/upy-packager/pkg/fetch"
	"github.com/arduino/upy-packager/pkg/install"
	"github.com/arduino/upy-packager/pkg/manifest"
)

// keyedClient serves canned HTTP responses keyed by exact URL, safe for the
// concurrent fetches pkg/fetch issues.
type keyedClient struct {
	mu        sync.Mutex
	responses map[string]string
}

func (c *keyedClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.responses[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestPackage_BuildsArchiveWithoutCompilation(t *testing.T) {
	client := &keyedClient{responses: map[string]string{
		"https://raw.githubusercontent.com/acme/widget/HEAD/package.json": `{"name":"widget","version":"1.0.0","urls":[["widget/__init__.py","https://raw.githubusercontent.com/acme/widget/HEAD/widget/__init__.py"]]}`,
		"https://raw.githubusercontent.com/acme/widget/HEAD/widget/__init__.py": `print("hello")`,
	}}

	outDir := t.TempDir()
	p := &Packager{
		Resolver: &manifest.Resolver{Client: client},
		Fetcher:  &fetch.Fetcher{Client: client},
		OutDir:   outDir,
	}

	result, session, err := p.Package(context.Background(), "github:acme/widget", "", nil, false)
	if err != nil {
		t.Fatalf("Package() failed: %v", err)
	}
	if session != nil {
		t.Fatalf("Package() returned a session with keepOpen=false")
	}
	if result.ArchivePath != filepath.Join(outDir, "widget-1.0.0.tar.gz") {
		t.Fatalf("ArchivePath = %q, want %q", result.ArchivePath, filepath.Join(outDir, "widget-1.0.0.tar.gz"))
	}
	if len(result.PackageFiles) != 1 || result.PackageFiles[0] != "widget/__init__.py" {
		t.Fatalf("PackageFiles = %v, want [widget/__init__.py]", result.PackageFiles)
	}
	if _, err := os.Stat(result.ArchivePath); err != nil {
		t.Fatalf("archive not written: %v", err)
	}
}

// deviceChannel simulates a raw-mode board well enough to drive
// PackageAndInstall's install phase (library path, upload, verify,
// extract, cleanup) without a real serial link.
type deviceChannel struct {
	out     bytes.Buffer
	pending bytes.Buffer
	written []byte
	lastBuf []byte
}

func (c *deviceChannel) Read(p []byte) (int, error) { return c.out.Read(p) }
func (c *deviceChannel) Close() error               { return nil }

func (c *deviceChannel) Write(p []byte) (int, error) {
	if len(p) == 1 && p[0] == 0x03 {
		c.out.WriteString("\r\n>>> ")
		return len(p), nil
	}
	if len(p) == 1 && p[0] == 0x01 {
		c.out.WriteString("raw REPL; CTRL-B to exit\r\n>")
		return len(p), nil
	}
	if len(p) == 1 && p[0] == 0x02 {
		c.out.WriteString(">>> ")
		return len(p), nil
	}
	if len(p) == 1 && p[0] == 0x04 {
		c.exec(c.pending.String())
		c.pending.Reset()
		return len(p), nil
	}
	c.pending.Write(p)
	return len(p), nil
}

func (c *deviceChannel) reply(stdout, stderr string) {
	c.out.WriteString("OK")
	c.out.WriteString(stdout)
	c.out.WriteByte(0x04)
	c.out.WriteString(stderr)
	c.out.WriteByte(0x04)
}

func (c *deviceChannel) exec(stmt string) {
	switch {
	case strings.Contains(stmt, "sys.path"):
		c.reply("/lib\r\n", "")
	case strings.Contains(stmt, "os.stat(") && strings.Contains(stmt, "print(1)"):
		c.reply("0", "")
	case strings.Contains(stmt, "def validate_crc"):
		c.reply("", "")
	case strings.HasPrefix(stmt, "f = open("):
		c.reply("", "")
	case strings.HasPrefix(stmt, "buf = "):
		c.lastBuf = extractBytesLiteral(stmt)
		c.reply("1", "")
	case strings.HasPrefix(stmt, "f.write("):
		if len(c.lastBuf) >= 4 {
			c.written = append(c.written, c.lastBuf[:len(c.lastBuf)-4]...)
		}
		c.reply("", "")
	case strings.HasPrefix(stmt, "f.close("):
		c.reply("", "")
	case strings.Contains(stmt, "def validate_hash"):
		c.reply("", "")
	case strings.HasPrefix(stmt, "print(validate_hash("):
		expected := string(extractBytesLiteral(stmt))
		if localSHA256Hex(c.written) == expected {
			c.reply("1\r\n", "")
		} else {
			c.reply("0\r\n", "")
		}
	case strings.Contains(stmt, "utarfile") || strings.Contains(stmt, "import tarfile"):
		c.reply("none\r\n", "")
	case strings.Contains(stmt, "class _TarFile") || strings.Contains(stmt, "def untar"):
		c.reply("", "")
	case strings.HasPrefix(stmt, "untar("):
		c.reply("Creating directory /lib/widget\r\nExtraction complete\r\n", "")
	case strings.HasPrefix(stmt, "import os\nos.remove("):
		c.reply("", "")
	default:
		c.reply("", "")
	}
}

func extractBytesLiteral(stmt string) []byte {
	start := strings.Index(stmt, "b'")
	if start < 0 {
		return nil
	}
	rest := stmt[start+2:]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return nil
	}
	lit := rest[:end]
	var out []byte
	for i := 0; i+4 <= len(lit); i += 4 {
		var v byte
		for _, c := range []byte(lit[i+2 : i+4]) {
			v <<= 4
			switch {
			case c >= '0' && c <= '9':
				v |= c - '0'
			case c >= 'a' && c <= 'f':
				v |= c - 'a' + 10
			}
		}
		out = append(out, v)
	}
	return out
}

func localSHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0xf]
	}
	return string(out)
}

func TestPackageAndInstall(t *testing.T) {
	client := &keyedClient{responses: map[string]string{
		"https://raw.githubusercontent.com/acme/widget/HEAD/package.json": `{"name":"widget","version":"1.0.0","urls":[["widget/__init__.py","https://raw.githubusercontent.com/acme/widget/HEAD/widget/__init__.py"]]}`,
		"https://raw.githubusercontent.com/acme/widget/HEAD/widget/__init__.py": `print("hello")`,
	}}

	dev := &deviceChannel{}
	p := &Packager{
		Resolver: &manifest.Resolver{Client: client},
		Fetcher:  &fetch.Fetcher{Client: client},
		OutDir:   t.TempDir(),
		Open: func(ctx context.Context) (board.Channel, error) {
			return dev, nil
		},
	}

	var states []install.State
	err := p.PackageAndInstall(context.Background(), "github:acme/widget", "", nil, false, nil,
		func(s install.State) { states = append(states, s) })
	if err != nil {
		t.Fatalf("PackageAndInstall() failed: %v", err)
	}
	if len(states) == 0 || states[len(states)-1] != install.Cleaned {
		t.Fatalf("states = %v, want final Cleaned", states)
	}
	if !bytes.Contains(dev.written, []byte(`print("hello")`)) {
		t.Fatalf("device did not receive expected archive contents, got %d bytes", len(dev.written))
	}
}
