package store

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Markdown sidecar limits.
const (
	// DefaultMarkdownInlineThreshold is the size at or below which
	// markdown stores inline rather than compressed.
	DefaultMarkdownInlineThreshold = 1024

	// MaxMarkdownBytes caps raw markdown size. Documents above the cap
	// are rejected before compression.
	MaxMarkdownBytes = 10 << 20
)

// MarkdownFields builds the sidecar payload fields for a document's
// markdown export. Small documents store inline under full_markdown;
// larger ones gzip+base64 under full_markdown_compressed. The same
// fields attach to every embedding of the document so retrieval can
// find the markdown from either collection.
func MarkdownFields(markdown string, inlineThreshold int) (Metadata, error) {
	if inlineThreshold <= 0 {
		inlineThreshold = DefaultMarkdownInlineThreshold
	}
	if len(markdown) > MaxMarkdownBytes {
		return nil, amerrors.New(amerrors.ErrCodeMarkdownTooLarge,
			fmt.Sprintf("markdown is %d bytes, cap is %d", len(markdown), MaxMarkdownBytes), nil)
	}

	if len(markdown) <= inlineThreshold {
		return Metadata{
			KeyFullMarkdown:        markdown,
			KeyMarkdownCompression: CompressionNone,
		}, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(markdown)); err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	if err := zw.Close(); err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}

	return Metadata{
		KeyFullMarkdownCompressed: base64.StdEncoding.EncodeToString(buf.Bytes()),
		KeyMarkdownCompression:    CompressionGzipBase64,
	}, nil
}

// MarkdownFromMetadata extracts a document's markdown from sidecar
// payload fields. Returns ("", false, nil) when no markdown is stored.
// Corrupted blobs return a corruption error: callers log it and treat
// the markdown as absent.
func MarkdownFromMetadata(meta Metadata) (string, bool, error) {
	switch MetaString(meta, KeyMarkdownCompression) {
	case CompressionNone:
		md, ok := meta[KeyFullMarkdown].(string)
		return md, ok, nil

	case CompressionGzipBase64:
		blob := MetaString(meta, KeyFullMarkdownCompressed)
		if blob == "" {
			return "", false, nil
		}
		compressed, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return "", false, amerrors.New(amerrors.ErrCodeCorruptedData, "markdown blob is not valid base64", err)
		}
		zr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return "", false, amerrors.New(amerrors.ErrCodeCorruptedData, "markdown blob is not valid gzip", err)
		}
		raw, err := io.ReadAll(io.LimitReader(zr, MaxMarkdownBytes+1))
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", false, amerrors.New(amerrors.ErrCodeCorruptedData, "markdown blob failed checksum", err)
		}
		if len(raw) > MaxMarkdownBytes {
			return "", false, amerrors.New(amerrors.ErrCodeCorruptedData, "markdown blob exceeds the size cap", nil)
		}
		return string(raw), true, nil

	default:
		return "", false, nil
	}
}
