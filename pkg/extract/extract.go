// Package extract implements the on-board extractor (C10): it ensures a
// tar module is importable on the board, ships the untar helper, and maps
// its textual trace back onto typed host errors.
package extract

import (
	"strings"

	"github.com/arduino/upy-packager/pkg/board"
	"github.com/pkg/errors"
)

// PackageAlreadyInstalled is returned when extraction hits an EEXIST on an
// already-present package directory.
type PackageAlreadyInstalled struct {
	Path string
}

func (e *PackageAlreadyInstalled) Error() string {
	return "package already installed at " + e.Path
}

// ExtractFailed is returned when the extraction trace ends without the
// "Extraction complete" sentinel and wasn't an EEXIST collision.
var ExtractFailed = errors.New("extraction failed")

const successSentinel = "Extraction complete"

// tarFallback is a minimal tar reader installed only when the board has no
// importable "utarfile"/"tarfile" module. It supports the ustar subset C5
// produces: regular files and directory entries, no links, no extended
// headers.
const tarFallback = "" +
	"class _TarInfo:\n" +
	"    def __init__(self, name, size, typeflag):\n" +
	"        self.name = name\n" +
	"        self.size = size\n" +
	"        self.typeflag = typeflag\n" +
	"class _TarFile:\n" +
	"    def __init__(self, f):\n" +
	"        self.f = f\n" +
	"    def __iter__(self):\n" +
	"        return self\n" +
	"    def __next__(self):\n" +
	"        hdr = self.f.read(512)\n" +
	"        if not hdr or hdr == b'\\x00' * 512:\n" +
	"            raise StopIteration\n" +
	"        name = hdr[0:100].rstrip(b'\\x00').decode()\n" +
	"        size = int(hdr[124:136].rstrip(b'\\x00\\x20') or b'0', 8)\n" +
	"        typeflag = chr(hdr[156])\n" +
	"        self._remaining = size\n" +
	"        self._pad = (512 - size % 512) % 512\n" +
	"        return _TarInfo(name, size, typeflag)\n" +
	"    def extractfile(self, info):\n" +
	"        data = self.f.read(info.size)\n" +
	"        self.f.read(self._pad)\n" +
	"        return _BytesReader(data)\n" +
	"class _BytesReader:\n" +
	"    def __init__(self, data):\n" +
	"        self.data = data\n" +
	"    def read(self):\n" +
	"        return self.data\n" +
	"def _open_tar(path):\n" +
	"    return _TarFile(open(path, 'rb'))\n"

const untarHelper = "" +
	"import gc\n" +
	"def untar(archivepath, destdir):\n" +
	"    try:\n" +
	"        os.mkdir(destdir)\n" +
	"    except OSError:\n" +
	"        pass\n" +
	"    tf = _open_tar(archivepath)\n" +
	"    for info in tf:\n" +
	"        path = destdir + '/' + info.name\n" +
	"        if info.typeflag == '5':\n" +
	"            print('Creating directory ' + path)\n" +
	"            os.mkdir(path)\n" +
	"        else:\n" +
	"            src = tf.extractfile(info)\n" +
	"            with open(path, 'wb') as out:\n" +
	"                out.write(src.read())\n" +
	"        gc.collect()\n" +
	"    print('" + successSentinel + "')\n"

const probeModule = "" +
	"import os\n" +
	"try:\n" +
	"    import utarfile as _uta\n" +
	"    print('utarfile')\n" +
	"except ImportError:\n" +
	"    try:\n" +
	"        import tarfile as _uta\n" +
	"        print('tarfile')\n" +
	"    except ImportError:\n" +
	"        print('none')\n"

// Extractor drives an open, raw-mode-capable Session to extract an archive
// already present on the board into its library directory.
type Extractor struct {
	Session *board.Session
}

// Extract unpacks archivePath into destDir on the board. It installs the
// fallback tar reader only when the board has no importable tar module.
func (e *Extractor) Extract(archivePath, destDir string) error {
	if err := e.Session.EnterRawMode(); err != nil {
		return err
	}
	defer e.Session.ExitRawMode()

	probe, err := e.Session.ExecStatement(probeModule)
	if err != nil {
		return errors.Wrap(err, "probing tar module")
	}
	if probe.Stdout != "utarfile" && probe.Stdout != "tarfile" {
		if _, err := e.Session.ExecStatement(tarFallback); err != nil {
			return errors.Wrap(err, "installing tar fallback")
		}
	} else {
		open := "import " + probe.Stdout + "\n" +
			"def _open_tar(path):\n" +
			"    return " + probe.Stdout + ".TarFile(path)\n"
		if _, err := e.Session.ExecStatement(open); err != nil {
			return errors.Wrap(err, "binding tar module")
		}
	}

	if _, err := e.Session.ExecStatement(untarHelper); err != nil {
		return errors.Wrap(err, "installing untar helper")
	}

	reply, err := e.Session.ExecStatement(
		"untar(" + board.QuotePythonString(archivePath) + ", " + board.QuotePythonString(destDir) + ")\n")
	if err != nil {
		return errors.Wrap(err, "running untar")
	}

	if strings.Contains(reply.Stdout, successSentinel) || strings.Contains(reply.Stderr, successSentinel) {
		return nil
	}
	if path, ok := eexistPath(reply.Stdout, reply.Stderr); ok {
		return &PackageAlreadyInstalled{Path: path}
	}
	return ExtractFailed
}

// eexistPath maps an EEXIST OSError back onto the directory the untar trace
// was about to create, per the "Creating directory …" line preceding it.
func eexistPath(stdout, stderr string) (string, bool) {
	if !strings.Contains(stdout, "EEXIST") && !strings.Contains(stderr, "EEXIST") {
		return "", false
	}
	lines := strings.Split(stdout, "\n")
	last := ""
	for _, line := range lines {
		if strings.HasPrefix(line, "Creating directory ") {
			last = strings.TrimPrefix(line, "Creating directory ")
		}
	}
	return last, last != ""
}
