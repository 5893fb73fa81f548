package note

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"
)

// ErrFileIO is matched by every *FileError.
var ErrFileIO = errors.New("note file I/O failed")

// FileError reports a failed read or write of a single note file.
type FileError struct {
	Op   string // "read", "write", "stat", "move", "remove"
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFileIO) true for any FileError.
func (e *FileError) Is(target error) bool { return target == ErrFileIO }

// Retry parameters for transiently locked files.
const (
	readAttempts = 4
	readBackoff  = 25 * time.Millisecond
)

// Windows sharing/lock violations surface as these errno values.
const (
	errnoSharingViolation syscall.Errno = 32
	errnoLockViolation    syscall.Errno = 33
)

// IsTransient reports whether err looks like a short-lived lock held by
// another process (an editor or sync client writing the file).
func IsTransient(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EBUSY, syscall.EAGAIN:
		return true
	case errnoSharingViolation, errnoLockViolation:
		return runtime.GOOS == "windows"
	}
	return false
}

// Snapshot is the result of reading a note file.
type Snapshot struct {
	Data        []byte
	Fingerprint string
	ModTime     time.Time
}

// ReadFile reads the file at absPath, retrying transient lock errors with
// exponential backoff. The returned error is a *FileError.
func ReadFile(absPath string) (*Snapshot, error) {
	var lastErr error
	delay := readBackoff
	for attempt := 0; attempt < readAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}

		info, err := os.Stat(absPath)
		if err != nil {
			if IsTransient(err) {
				lastErr = err
				continue
			}
			return nil, &FileError{Op: "stat", Path: absPath, Err: err}
		}
		if info.IsDir() {
			return nil, &FileError{Op: "read", Path: absPath, Err: fmt.Errorf("is a directory")}
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			if IsTransient(err) {
				lastErr = err
				continue
			}
			return nil, &FileError{Op: "read", Path: absPath, Err: err}
		}

		return &Snapshot{
			Data:        data,
			Fingerprint: Fingerprint(data),
			ModTime:     info.ModTime(),
		}, nil
	}
	return nil, &FileError{Op: "read", Path: absPath, Err: lastErr}
}

// WriteFile atomically replaces the file at absPath with content, applying
// the line-ending policy. Parent directories are created as needed.
// It returns the snapshot of what was written.
func WriteFile(absPath, content string, le LineEnding) (*Snapshot, error) {
	return WriteBytes(absPath, []byte(le.Apply(content)))
}

// WriteBytes is WriteFile for data that must land on disk unchanged, such
// as a copy of another note.
func WriteBytes(absPath string, data []byte) (*Snapshot, error) {
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, &FileError{Op: "write", Path: absPath, Err: err}
	}
	if err := replaceFile(absPath, data); err != nil {
		return nil, &FileError{Op: "write", Path: absPath, Err: err}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, &FileError{Op: "stat", Path: absPath, Err: err}
	}
	return &Snapshot{Data: data, Fingerprint: Fingerprint(data), ModTime: info.ModTime()}, nil
}

// Exists reports whether a file exists at absPath.
func Exists(absPath string) bool {
	_, err := os.Stat(absPath)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// MoveFile renames src to dst, creating dst's parent directory. It refuses to
// overwrite an existing dst.
func MoveFile(src, dst string) error {
	if Exists(dst) {
		return &FileError{Op: "move", Path: dst, Err: fs.ErrExist}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &FileError{Op: "move", Path: dst, Err: err}
	}
	if err := os.Rename(src, dst); err != nil {
		return &FileError{Op: "move", Path: src, Err: err}
	}
	return nil
}
