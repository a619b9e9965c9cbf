package extract

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// UnzipSingleFile takes a byte slice of a zip file and returns the contents of the single file inside
func UnzipSingleFile(zipData []byte) ([]byte, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zip reader: %w", err)
	}

	if len(zipReader.File) != 1 {
		return nil, fmt.Errorf("expected exactly one file in the zip archive, but found %d", len(zipReader.File))
	}

	file := zipReader.File[0]
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", file.Name, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", file.Name, err)
	}

	return content, nil
}

func Gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	content, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip data: %w", err)
	}
	return content, nil
}

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
)

// Decompress unpacks zip and gzip payloads, detected by their magic bytes.
// Anything else is returned unchanged.
func Decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return UnzipSingleFile(data)
	case bytes.HasPrefix(data, gzipMagic):
		return Gunzip(data)
	default:
		return data, nil
	}
}
