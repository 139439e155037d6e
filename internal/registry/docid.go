// Package registry derives document identifiers and tracks known
// uploads for deduplication. Identity is content-addressed: identical
// uploads always produce identical doc_ids, so re-ingesting a file is
// detectable before any work is done.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// DeriveDocID hashes file content into the canonical 64-hex identifier.
func DeriveDocID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DeriveDocIDFromFile streams a file through the content hash.
func DeriveDocIDFromFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", amerrors.New(amerrors.ErrCodeFileNotFound, "reading file for doc_id failed", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "hashing file failed", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DeriveDocIDFromMeta derives the identifier from (filename, size)
// when the content is not yet local, e.g. at batch registration before
// the browser uploads. The same pair always yields the same id, so the
// pre-upload id matches what the event handler computes later only when
// it uses the same derivation; both sides use this one for metadata-
// driven flows.
func DeriveDocIDFromMeta(filename string, size int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", filename, size)))
	return hex.EncodeToString(sum[:])
}
