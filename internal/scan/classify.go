package scan

import (
	"errors"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/agentic-research/metromap/api"
)

// errnoKinds maps operating-system error codes to their kind. Checked
// before any text matching.
var errnoKinds = map[syscall.Errno]api.ErrorKind{
	unix.EACCES:  api.ErrPermissionDenied,
	unix.EPERM:   api.ErrPermissionDenied,
	unix.ENOENT:  api.ErrNotFound,
	unix.ENOTDIR: api.ErrNotADirectory,
	unix.EEXIST:  api.ErrAlreadyExists,
	unix.EINVAL:  api.ErrInvalidArgument,
	unix.ENOSPC:  api.ErrOutOfSpace,
	unix.EMFILE:  api.ErrTooManyOpenFiles,
	unix.ENFILE:  api.ErrTooManyOpenFiles,
}

// substringKinds is the fallback for errors that carry no code, matched
// in order against the lowercased error text.
var substringKinds = []struct {
	sub  string
	kind api.ErrorKind
}{
	{"permission denied", api.ErrPermissionDenied},
	{"operation not permitted", api.ErrPermissionDenied},
	{"no such file", api.ErrNotFound},
	{"not found", api.ErrNotFound},
	{"not a directory", api.ErrNotADirectory},
	{"file exists", api.ErrAlreadyExists},
	{"already exists", api.ErrAlreadyExists},
	{"invalid argument", api.ErrInvalidArgument},
	{"no space left", api.ErrOutOfSpace},
	{"too many open files", api.ErrTooManyOpenFiles},
}

// Classify maps a filesystem error to its fixed kind: OS error code
// first, stdlib sentinels next, then substring matching. Anything
// unmatched is ErrUnknown. Classification never fails.
func Classify(err error) api.ErrorKind {
	if err == nil {
		return ""
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if kind, ok := errnoKinds[errno]; ok {
			return kind
		}
	}
	switch {
	case errors.Is(err, os.ErrPermission):
		return api.ErrPermissionDenied
	case errors.Is(err, os.ErrNotExist):
		return api.ErrNotFound
	case errors.Is(err, os.ErrExist):
		return api.ErrAlreadyExists
	case errors.Is(err, os.ErrInvalid):
		return api.ErrInvalidArgument
	}
	text := strings.ToLower(err.Error())
	for _, m := range substringKinds {
		if strings.Contains(text, m.sub) {
			return m.kind
		}
	}
	return api.ErrUnknown
}
