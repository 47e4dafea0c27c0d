package board

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Inspector runs short introspection programs against an open Session.
// Each query acquires raw mode, runs one statement, and leaves raw mode
// again, per §4.7 — queries are not expected to be pipelined with other
// session activity.
type Inspector struct {
	Session *Session
}

// Architecture returns the third '-'-separated field of sys.platform
// (or the fourth if the third is the literal "preview"), or "" if unknown.
func (i *Inspector) Architecture() (string, error) {
	reply, err := i.query("import sys\nprint(sys.platform)\n")
	if err != nil {
		return "", err
	}
	fields := strings.Split(reply, "-")
	if len(fields) < 3 {
		return "", nil
	}
	if fields[2] == "preview" {
		if len(fields) < 4 {
			return "", nil
		}
		return fields[3], nil
	}
	return fields[2], nil
}

// MpyFormat evaluates getattr(sys.implementation, '_mpy', 0) & 0xFF.
func (i *Inspector) MpyFormat() (int, error) {
	reply, err := i.query("import sys\nprint(getattr(sys.implementation, '_mpy', 0) & 0xFF)\n")
	if err != nil {
		return 0, err
	}
	v, convErr := strconv.Atoi(reply)
	if convErr != nil {
		return 0, errors.Wrapf(ProtocolError, "parsing mpy format from %q", reply)
	}
	return v, nil
}

// InterpreterVersion returns os.uname().release with any suffix after the
// first '-' removed.
func (i *Inspector) InterpreterVersion() (string, error) {
	reply, err := i.query("import os\nprint(os.uname().release)\n")
	if err != nil {
		return "", err
	}
	if idx := strings.Index(reply, "-"); idx >= 0 {
		reply = reply[:idx]
	}
	return reply, nil
}

// LibraryPath returns the first entry of sys.path containing "/lib", or ""
// if none does.
func (i *Inspector) LibraryPath() (string, error) {
	reply, err := i.query(
		"import sys\n" +
			"p = ''\n" +
			"for entry in sys.path:\n" +
			"    if '/lib' in entry:\n" +
			"        p = entry\n" +
			"        break\n" +
			"print(p)\n")
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (i *Inspector) query(statement string) (string, error) {
	if err := i.Session.EnterRawMode(); err != nil {
		return "", err
	}
	defer i.Session.ExitRawMode()
	reply, err := i.Session.ExecStatement(statement)
	if err != nil {
		return "", err
	}
	if reply.Stderr != "" {
		return "", errors.Wrapf(ProtocolError, "query failed: %s", reply.Stderr)
	}
	return strings.TrimSpace(reply.Stdout), nil
}
