// Package validation provides boundary validation for identifiers, asset
// names, and filesystem paths crossing the HTTP surface. Handlers validate
// inputs here before touching storage so that malformed requests map to
// stable error codes.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const (
	// fullDocIDLength is the length of a complete content hash in hex.
	fullDocIDLength = 64

	// minDocIDLength is the shortest accepted identifier prefix.
	minDocIDLength = 8

	// maxFilenameLength bounds upload filenames.
	maxFilenameLength = 255
)

// docIDPattern matches lowercase hex identifiers between 8 and 64 chars.
// Reads accept truncated identifiers; writes always use the full form.
var docIDPattern = regexp.MustCompile(`^[a-f0-9]{8,64}$`)

// assetNamePattern matches the page image, thumbnail, and cover art
// filenames the asset endpoints serve. Anything else is rejected before
// the path is resolved.
var assetNamePattern = regexp.MustCompile(`^(page\d{3}(_thumb)?\.(png|jpg)|cover\.(jpg|png))$`)

// ValidateDocID validates a document identifier as accepted at the
// read boundary: lowercase hex, between 8 and 64 characters.
func ValidateDocID(id string) error {
	if id == "" {
		return amerrors.New(amerrors.ErrCodeInvalidDocID, "doc_id cannot be empty", nil)
	}
	if !docIDPattern.MatchString(id) {
		return amerrors.New(amerrors.ErrCodeInvalidDocID,
			fmt.Sprintf("doc_id must be %d-%d lowercase hex characters", minDocIDLength, fullDocIDLength), nil).
			WithDetail("doc_id", id)
	}
	return nil
}

// ValidateFullDocID validates a complete 64-character document identifier.
// Write paths never operate on truncated identifiers.
func ValidateFullDocID(id string) error {
	if err := ValidateDocID(id); err != nil {
		return err
	}
	if len(id) != fullDocIDLength {
		return amerrors.New(amerrors.ErrCodeInvalidDocID,
			fmt.Sprintf("doc_id must be exactly %d hex characters", fullDocIDLength), nil).
			WithDetail("doc_id", id)
	}
	return nil
}

// IsFullDocID reports whether id is a complete content hash.
func IsFullDocID(id string) bool {
	return len(id) == fullDocIDLength && docIDPattern.MatchString(id)
}

// ValidateAssetName validates a requested asset filename against the
// whitelist of generated artifacts (page renders, thumbnails, cover art).
func ValidateAssetName(name string) error {
	if !assetNamePattern.MatchString(name) {
		return amerrors.New(amerrors.ErrCodeInvalidFilename,
			"asset name must be a page image, thumbnail, or cover file", nil).
			WithDetail("asset", name)
	}
	return nil
}

// ValidateUploadFilename validates an original upload filename. Filenames
// arrive from object store event payloads and must not carry path
// components.
func ValidateUploadFilename(name string) error {
	if name == "" {
		return amerrors.New(amerrors.ErrCodeInvalidFilename, "filename cannot be empty", nil)
	}
	if len(name) > maxFilenameLength {
		return amerrors.New(amerrors.ErrCodeInvalidFilename,
			fmt.Sprintf("filename too long (max %d chars)", maxFilenameLength), nil)
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return amerrors.New(amerrors.ErrCodeInvalidFilename,
			"filename cannot contain path separators", nil).
			WithDetail("filename", name)
	}
	if name == "." || name == ".." {
		return amerrors.New(amerrors.ErrCodeInvalidFilename, "filename is reserved", nil)
	}
	return nil
}

// ValidateQuery validates a search or research query string.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return amerrors.New(amerrors.ErrCodeInvalidQuery, "query cannot be empty", nil)
	}
	return nil
}

// ValidatePage validates a 1-based page number.
func ValidatePage(page int) error {
	if page < 1 {
		return amerrors.New(amerrors.ErrCodeInvalidInput,
			fmt.Sprintf("page must be >= 1, got %d", page), nil)
	}
	return nil
}

// ResolveUnderRoot joins name onto root and verifies the result stays
// inside root. Escape attempts (absolute paths, traversal segments) are
// rejected with an access denied error rather than silently rewritten.
func ResolveUnderRoot(root, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", amerrors.New(amerrors.ErrCodeAccessDenied, "path contains null byte", nil)
	}
	if filepath.IsAbs(name) {
		return "", amerrors.New(amerrors.ErrCodeAccessDenied, "absolute paths are not allowed", nil).
			WithDetail("path", name)
	}

	full := filepath.Join(root, name)

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", amerrors.New(amerrors.ErrCodeAccessDenied, "path escapes the serving root", nil).
			WithDetail("path", name)
	}

	return full, nil
}
