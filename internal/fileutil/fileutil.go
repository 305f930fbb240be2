// Package fileutil holds file helpers shared by input ingestion and storage.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFileVerified streams src to dst with SHA256 + size integrity
// verification. The copy is written to a temporary file beside dst and
// renamed into place, so dst is either absent or complete. It returns the
// number of bytes copied.
func CopyFileVerified(src, dst string) (int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if srcInfo.IsDir() {
		return 0, fmt.Errorf("copy %s: source is a directory", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, err
	}
	tmp := out.Name()
	defer func() {
		_ = out.Close()
		_ = os.Remove(tmp)
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if written != srcInfo.Size() {
		return 0, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		return 0, fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, err
	}
	return written, nil
}
