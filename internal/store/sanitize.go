package store

import (
	"fmt"
	"strings"
)

// MaxMetadataStringLen caps string values at the metadata boundary.
// Sidecar keys (compressed blobs, inline markdown) are exempt: their
// size is governed by the markdown and embedding codecs.
const MaxMetadataStringLen = 4096

// sanitizeExempt lists payload keys the string cap does not apply to.
var sanitizeExempt = map[string]bool{
	KeyEmbeddingCompressed:    true,
	KeyFullMarkdown:           true,
	KeyFullMarkdownCompressed: true,
	// Owned by the structure codec; named literally to avoid a cycle.
	"structure_compressed": true,
}

// Sanitize flattens arbitrary metadata into the flat primitive form the
// vector store accepts: nested maps flatten with a "." path, lists are
// stringified, nils drop, and overlong strings truncate. The input is
// not modified.
func Sanitize(meta map[string]any) Metadata {
	out := make(Metadata, len(meta))
	flattenInto(out, "", meta)
	return out
}

func flattenInto(out Metadata, prefix string, meta map[string]any) {
	for key, val := range meta {
		if val == nil {
			continue
		}
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}

		switch v := val.(type) {
		case map[string]any:
			flattenInto(out, full, v)
		case string:
			out[full] = capString(full, v)
		case bool, int, int32, int64, float32, float64:
			out[full] = v
		case []string:
			out[full] = capString(full, strings.Join(v, ","))
		case []any:
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = fmt.Sprint(item)
			}
			out[full] = capString(full, strings.Join(parts, ","))
		default:
			// Unknown scalar types are stringified rather than dropped
			// so diagnostic fields survive the boundary.
			out[full] = capString(full, fmt.Sprint(v))
		}
	}
}

func capString(key, s string) string {
	if sanitizeExempt[key] || len(s) <= MaxMetadataStringLen {
		return s
	}
	return s[:MaxMetadataStringLen]
}

// MetaString reads a string field from sanitised metadata.
func MetaString(m Metadata, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// MetaInt reads an integer field from sanitised metadata, tolerating
// the numeric types the backend round-trips through.
func MetaInt(m Metadata, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}

// MetaFloat reads a float field from sanitised metadata.
func MetaFloat(m Metadata, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// MetaBool reads a boolean field from sanitised metadata.
func MetaBool(m Metadata, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
