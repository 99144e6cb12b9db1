package hash

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fileDigest is the digest of a file together with its size.
type fileDigest struct {
	digest digest.Digest
	size   int64
}

// resolve prefixes a relative path with the sandbox directory of the request.
func resolve(path, sandboxDir string) string {
	if sandboxDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(sandboxDir, path)
}

// computeDigest hashes the file at path.
func computeDigest(path string, alg digest.Algorithm) (fileDigest, error) {
	file, err := os.Open(path)
	if err != nil {
		return fileDigest{}, fmt.Errorf("failed to open input file %s: %w", path, err)
	}
	defer file.Close()

	digester := alg.Digester()
	size, err := io.Copy(digester.Hash(), file)
	if err != nil {
		return fileDigest{}, fmt.Errorf("failed to hash input file: %w", err)
	}
	return fileDigest{digest: digester.Digest(), size: size}, nil
}

// encodeDigest renders d in the requested encoding.
func encodeDigest(d fileDigest, req *hashRequest) ([]byte, error) {
	if err := d.digest.Validate(); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(d.digest.Encoded())
	if err != nil {
		return nil, err
	}

	switch req.encoding {
	case "raw":
		return raw, nil
	case "hex":
		return []byte(d.digest.Encoded()), nil
	case "sri":
		return fmt.Appendf(nil, "%s-%s", d.digest.Algorithm(), base64.StdEncoding.EncodeToString(raw)), nil
	case "oci-digest":
		return []byte(d.digest.String()), nil
	case "descriptor":
		desc := ocispec.Descriptor{
			MediaType: req.mediaType,
			Digest:    d.digest,
			Size:      d.size,
		}
		if len(req.annotations) > 0 {
			desc.Annotations = req.annotations
		}
		return json.MarshalIndent(desc, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", req.encoding)
	}
}

// writeHashOutput writes d to the output path in the requested encoding.
func writeHashOutput(d fileDigest, req *hashRequest, sandboxDir string) error {
	outputData, err := encodeDigest(d, req)
	if err != nil {
		return err
	}
	outputPath := resolve(req.output, sandboxDir)
	if err := os.WriteFile(outputPath, outputData, 0o644); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", outputPath, err)
	}
	return nil
}
