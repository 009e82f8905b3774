package workspace

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/docker/docker/pkg/archive"
)

const maxArchivedFileSize = 1 << 20

// ErrFileNotInArchive is returned by ReadFile when the entry does not exist.
var ErrFileNotInArchive = errors.New("workspace: file not found in archive")

// Archive writes an uncompressed tar of dir, without its .git directory, next to
// dir and returns the tarball path.
func (m *Manager) Archive(dir string) (string, error) {
	if err := m.within(dir); err != nil {
		return "", err
	}
	stream, err := archive.TarWithOptions(dir, &archive.TarOptions{
		Compression:     archive.Uncompressed,
		ExcludePatterns: []string{".git"},
	})
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer stream.Close()

	target := strings.TrimRight(dir, string(os.PathSeparator)) + ".tar"
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create tarball: %w", err)
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close()
		os.Remove(target)
		return "", fmt.Errorf("write tarball: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("close tarball: %w", err)
	}
	return target, nil
}

// ReadFile returns the contents of a regular file stored at name inside the tarball.
func ReadFile(tarball, name string) ([]byte, error) {
	f, err := os.Open(tarball)
	if err != nil {
		return nil, fmt.Errorf("open tarball: %w", err)
	}
	defer f.Close()

	want := path.Clean(name)
	reader := tar.NewReader(f)
	for {
		hdr, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotInArchive, name)
		}
		if err != nil {
			return nil, fmt.Errorf("read tarball: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || path.Clean(strings.TrimPrefix(hdr.Name, "./")) != want {
			continue
		}
		if hdr.Size > maxArchivedFileSize {
			return nil, fmt.Errorf("%s is too large (%d bytes)", name, hdr.Size)
		}
		return io.ReadAll(reader)
	}
}

// ReadFile returns a file from a tarball produced by Archive.
func (m *Manager) ReadFile(tarball, name string) ([]byte, error) {
	if err := m.within(tarball); err != nil {
		return nil, err
	}
	return ReadFile(tarball, name)
}
