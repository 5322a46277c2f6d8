package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// ErrDecompression is returned when a stored blob cannot be decoded.
// Lookups treat it like a missing file: the entry is invalidated and the
// caller observes a miss.
var ErrDecompression = errors.New("decompression failed")

// compress encodes body with the requested algorithm. Bodies below
// types.CompressionMinSize and unknown algorithms pass through unchanged.
// The returned algorithm is what was actually applied; it decides the blob
// file extension and is persisted on the content row.
func compress(body []byte, algorithm string) (data []byte, applied string, err error) {
	if len(body) < types.CompressionMinSize {
		return body, types.CompressionNone, nil
	}

	switch algorithm {
	case types.CompressionSnappy:
		return snappy.Encode(nil, body), types.CompressionSnappy, nil

	case types.CompressionLZ4:
		// Stream format: the frame carries the uncompressed size, so
		// decoding needs no side channel.
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), types.CompressionLZ4, nil

	default:
		return body, types.CompressionNone, nil
	}
}

// decompress decodes data according to the blob file's extension. Files
// without a compression extension are returned as-is.
func decompress(data []byte, filePath string) ([]byte, error) {
	switch algorithmFromPath(filePath) {
	case types.CompressionSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %w", ErrDecompression, err)
		}
		return out, nil

	case types.CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrDecompression, err)
		}
		return out, nil

	default:
		return data, nil
	}
}

// extFor returns the extra filename suffix for a compression algorithm.
func extFor(algorithm string) string {
	switch algorithm {
	case types.CompressionSnappy:
		return types.ExtSnappy
	case types.CompressionLZ4:
		return types.ExtLZ4
	default:
		return ""
	}
}

func algorithmFromPath(filePath string) string {
	switch {
	case strings.HasSuffix(filePath, types.ExtSnappy):
		return types.CompressionSnappy
	case strings.HasSuffix(filePath, types.ExtLZ4):
		return types.CompressionLZ4
	default:
		return types.CompressionNone
	}
}
