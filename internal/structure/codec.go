package structure

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Vector-store payload keys for the structure sidecar. The blob rides
// on the page's visual embedding point so structure survives restarts
// without a separate database.
const (
	KeyStructureCompressed  = "structure_compressed"
	KeyStructureCompression = "structure_compression"
	KeyHasStructure         = "has_structure"
	KeyMetadataVersion      = "metadata_version"
)

// Compress serialises a page structure to the gzip+base64 payload form.
func Compress(ps PageStructure) (string, error) {
	raw, err := json.Marshal(ps)
	if err != nil {
		return "", amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	if err := zw.Close(); err != nil {
		return "", amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress restores a page structure from its payload form. Bad
// base64, a truncated gzip stream, or malformed JSON all surface as
// corrupted-data errors carrying the blob provenance.
func Decompress(blob string) (PageStructure, error) {
	var ps PageStructure

	compressed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return ps, amerrors.New(amerrors.ErrCodeCorruptedData,
			"structure blob is not valid base64", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return ps, amerrors.New(amerrors.ErrCodeCorruptedData,
			"structure blob is not a gzip stream", err)
	}
	raw, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ps, amerrors.New(amerrors.ErrCodeCorruptedData,
			"structure blob failed gzip decompression", err)
	}

	if err := json.Unmarshal(raw, &ps); err != nil {
		return ps, amerrors.New(amerrors.ErrCodeCorruptedData,
			"structure blob holds malformed JSON", err)
	}
	return ps, nil
}
