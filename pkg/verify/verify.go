// Package verify implements the archive hash verifier (C9): a bytecode
// helper computes SHA-256 of the uploaded archive on the board, compared
// against a local digest so the host never trusts a transfer it cannot
// independently confirm.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/arduino/upy-packager/pkg/board"
	"github.com/pkg/errors"
)

// HashMismatch is returned when the local and on-device digests of the
// uploaded archive disagree.
var HashMismatch = errors.New("archive hash mismatch")

const sha256Helper = "import uhashlib, ubinascii\n" +
	"def validate_hash(path, expected_hex_digest):\n" +
	"    h = uhashlib.sha256()\n" +
	"    with open(path, 'rb') as f:\n" +
	"        while True:\n" +
	"            chunk = f.read(512)\n" +
	"            if not chunk:\n" +
	"                break\n" +
	"            h.update(chunk)\n" +
	"    return 1 if ubinascii.hexlify(h.digest()) == expected_hex_digest else 0\n"

// Verifier checks an uploaded archive's integrity against its local file.
type Verifier struct {
	Session *board.Session
}

// Verify computes the local SHA-256 digest of localPath, asks the board to
// do the same for devicePath, and returns HashMismatch if they disagree.
func (v *Verifier) Verify(localPath, devicePath string) error {
	local, err := localSHA256(localPath)
	if err != nil {
		return errors.Wrap(err, "hashing local archive")
	}

	if err := v.Session.EnterRawMode(); err != nil {
		return err
	}
	defer v.Session.ExitRawMode()

	if _, err := v.Session.ExecStatement(sha256Helper); err != nil {
		return errors.Wrap(err, "installing sha256 helper")
	}
	stmt := "print(validate_hash(" + board.QuotePythonString(devicePath) + ", " + board.QuotePythonBytes(local) + "))\n"
	reply, err := v.Session.ExecStatement(stmt)
	if err != nil {
		return errors.Wrap(err, "computing remote digest")
	}
	if reply.Stderr != "" {
		return errors.Wrapf(board.ProtocolError, "remote hashing failed: %s", reply.Stderr)
	}

	switch reply.Stdout {
	case "1":
		return nil
	case "0":
		return HashMismatch
	default:
		return errors.Wrapf(board.ProtocolError, "unexpected validate_hash reply %q", reply.Stdout)
	}
}

// localSHA256 returns the local archive's SHA-256 digest as the literal hex
// bytes validate_hash expects for expected_hex_digest (e.g. "deadbeef..."),
// not the raw 32-byte digest.
func localSHA256(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	digest := make([]byte, hex.EncodedLen(h.Size()))
	hex.Encode(digest, h.Sum(nil))
	return digest, nil
}
