package finalize

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func digest(r io.Reader) ([]byte, error) {
	h := blake3.New(32, nil)
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// sameContents reports whether file already holds exactly contents.
func sameContents(file string, contents []byte) bool {
	st, err := os.Stat(file)
	if err != nil || !st.Mode().IsRegular() || st.Size() != int64(len(contents)) {
		return false
	}
	f, err := os.Open(file)
	if err != nil {
		return false
	}
	defer f.Close()
	have, err := digest(f)
	if err != nil {
		return false
	}
	want, _ := digest(bytes.NewReader(contents))
	return bytes.Equal(have, want)
}

// updateFile writes contents to file unless it already has them, so that
// unchanged outputs keep their timestamps. It reports whether it wrote.
func updateFile(file string, contents []byte) (bool, error) {
	if sameContents(file, contents) {
		debugf("  -> %s is up to date\n", file)
		return false, nil
	}
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := renameio.WriteFile(file, contents, 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", file, err)
	}
	return true, nil
}

// withExclusiveLock runs fn while holding an exclusive flock on
// lockBase.lock.
func withExclusiveLock(lockBase string, fn func() error) error {
	lockPath := lockBase + ".lock"
	if dir := filepath.Dir(lockPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return fn()
}

// formatDepfile renders a Ninja depfile line.
func formatDepfile(output string, deps []string) string {
	var sb strings.Builder
	sb.WriteString(output)
	sb.WriteByte(':')
	for _, d := range deps {
		sb.WriteByte(' ')
		sb.WriteString(d)
	}
	sb.WriteByte('\n')
	return sb.String()
}
