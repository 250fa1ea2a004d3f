package stream

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
)

// SnappySuffix marks capture files in the snappy framing format.
const SnappySuffix = ".sz"

type readCloser struct {
	io.Reader
	io.Closer
}

// Open opens a capture file. Files ending in SnappySuffix are decompressed
// transparently.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Opening capture file failed: %w", err)
	}
	if strings.HasSuffix(path, SnappySuffix) {
		log.Debugf("Reading snappy compressed capture %s", path)
		return readCloser{snappy.NewReader(f), f}, nil
	}
	return f, nil
}

// Compress writes the capture in the snappy framing format.
func Compress(w io.Writer, capture []byte) error {
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(capture); err != nil {
		return fmt.Errorf("Compressing capture failed: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("Compressing capture failed: %w", err)
	}
	return nil
}
