package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Format is a compression format of a blob.
type Format string

const (
	Uncompressed Format = "none"
	Gzip         Format = "gzip"
	Zstd         Format = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case Uncompressed, Gzip, Zstd:
		return f, nil
	case "uncompressed", "":
		return Uncompressed, nil
	default:
		return "", fmt.Errorf("unknown compression format %q (must be gzip, zstd or none)", s)
	}
}

// Sniff reports the format of the stream behind r by its magic bytes.
func Sniff(r *bufio.Reader) (Format, error) {
	header, err := r.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return "", err
	}
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return Gzip, nil
	case bytes.HasPrefix(header, zstdMagic):
		return Zstd, nil
	default:
		return Uncompressed, nil
	}
}

// Decompress returns the uncompressed contents of r and the format they were
// stored in.
func Decompress(r io.Reader) (Format, io.ReadCloser, error) {
	br := bufio.NewReader(r)
	format, err := Sniff(br)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read header: %w", err)
	}

	switch format {
	case Gzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return "", nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return format, gr, nil
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return "", nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return format, zr.IOReadCloser(), nil
	default:
		return format, io.NopCloser(br), nil
	}
}

// NewWriter returns a writer compressing into w. A negative level selects the
// default of the format. jobs bounds the blocks gzip compresses in parallel.
// The returned writer must be closed to flush the stream; w is not closed.
func NewWriter(w io.Writer, format Format, level, jobs int) (io.WriteCloser, error) {
	switch format {
	case Gzip:
		if level < 0 {
			level = pgzip.DefaultCompression
		}
		gw, err := pgzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, err
		}
		if err := gw.SetConcurrency(1<<20, jobs); err != nil {
			return nil, err
		}
		return gw, nil
	case Zstd:
		opts := []zstd.EOption{zstd.WithEncoderConcurrency(jobs)}
		if level >= 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		return zstd.NewWriter(w, opts...)
	case Uncompressed:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unsupported compression format: %s", format)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
