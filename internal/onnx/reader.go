package onnx

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Load reads and parses a model file.
// Large exported models are mapped read-only where mmap is available; the
// parsed model copies what it keeps, so the mapping is released before
// returning either way.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%s: %w", path, ErrCorruptModel)
	}
	size := int(size64)

	if data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED); err == nil {
		m, parseErr := Unmarshal(data)
		_ = unix.Munmap(data)
		if parseErr != nil {
			return nil, fmt.Errorf("%s: %w", path, parseErr)
		}
		return m, nil
	}

	// Fallback path that does not require mmap support.
	data, err := readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save serializes the model and writes it to path.
func Save(m *Model, path string) error {
	return os.WriteFile(path, m.Marshal(), 0o644)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}
