// Package assets manages the generated image artifacts on disk: full
// page renders, letterboxed thumbnails, and album art, laid out one
// subdirectory per document.
package assets

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/validation"
)

// Thumbnail defaults: a portrait letterbox sized for the result grid.
const (
	DefaultThumbWidth  = 300
	DefaultThumbHeight = 400
	DefaultJPEGQuality = 85
)

// Store manages page images and covers under the data root.
type Store struct {
	pageImagesDir string
	coversDir     string
	thumbWidth    int
	thumbHeight   int
	jpegQuality   int
	logger        *slog.Logger
}

// Config configures the asset store.
type Config struct {
	PageImagesDir string
	CoversDir     string
	ThumbWidth    int
	ThumbHeight   int
	JPEGQuality   int
}

// NewStore creates an asset store, applying thumbnail defaults for
// unset fields.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.PageImagesDir == "" || cfg.CoversDir == "" {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "asset directories are required", nil)
	}
	if cfg.ThumbWidth <= 0 {
		cfg.ThumbWidth = DefaultThumbWidth
	}
	if cfg.ThumbHeight <= 0 {
		cfg.ThumbHeight = DefaultThumbHeight
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pageImagesDir: cfg.PageImagesDir,
		coversDir:     cfg.CoversDir,
		thumbWidth:    cfg.ThumbWidth,
		thumbHeight:   cfg.ThumbHeight,
		jpegQuality:   cfg.JPEGQuality,
		logger:        logger.With("component", "assets"),
	}, nil
}

// PageImageName returns the canonical full-render filename for a page.
func PageImageName(page int) string {
	return fmt.Sprintf("page%03d.png", page)
}

// ThumbnailName returns the canonical thumbnail filename for a page.
func ThumbnailName(page int) string {
	return fmt.Sprintf("page%03d_thumb.jpg", page)
}

// DocDir returns the page-image directory for a document.
func (s *Store) DocDir(docID string) string {
	return filepath.Join(s.pageImagesDir, docID)
}

// CoverDir returns the album-art directory for a document.
func (s *Store) CoverDir(docID string) string {
	return filepath.Join(s.coversDir, docID)
}

// SavePageImage copies a rendered page into the document's asset
// directory as page{NNN}.png and writes its letterboxed thumbnail
// alongside. Source images in any decodable format are re-encoded.
func (s *Store) SavePageImage(ctx context.Context, docID string, page int, sourcePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	img, err := decodeImage(sourcePath)
	if err != nil {
		return err
	}

	dir := s.DocDir(docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "creating page image directory failed", err)
	}

	fullPath := filepath.Join(dir, PageImageName(page))
	if err := writePNG(fullPath, img); err != nil {
		return err
	}

	thumb := s.letterbox(img)
	thumbPath := filepath.Join(dir, ThumbnailName(page))
	if err := s.writeJPEG(thumbPath, thumb); err != nil {
		return err
	}
	return nil
}

// SaveCover copies album art into the document's cover directory,
// keeping the source format's extension (jpg or png).
func (s *Store) SaveCover(docID, sourcePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		return "", amerrors.New(amerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported cover format %q", ext), nil)
	}
	if ext == ".jpeg" {
		ext = ".jpg"
	}

	dir := s.CoverDir(docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "creating cover directory failed", err)
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", amerrors.New(amerrors.ErrCodeFileNotFound, "reading album art failed", err)
	}
	dest := filepath.Join(dir, "cover"+ext)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "writing album art failed", err)
	}
	return dest, nil
}

// Resolve maps (doc_id, filename) to a servable path. The filename must
// match the strict asset pattern and the resolved path must stay under
// the asset roots; anything else is rejected before touching the disk.
func (s *Store) Resolve(docID, filename string) (string, error) {
	if err := validation.ValidateDocID(docID); err != nil {
		return "", err
	}
	if err := validation.ValidateAssetName(filename); err != nil {
		return "", err
	}

	root := s.DocDir(docID)
	if strings.HasPrefix(filename, "cover.") {
		root = s.CoverDir(docID)
	}
	path, err := validation.ResolveUnderRoot(root, filename)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", amerrors.New(amerrors.ErrCodeAssetNotFound,
			fmt.Sprintf("asset %s not found for document %s", filename, docID), err)
	}
	return path, nil
}

// DeleteDoc removes both asset directories for a document. Missing
// directories are not an error; the counts report what was removed.
func (s *Store) DeleteDoc(docID string) (pages int, covers int, err error) {
	pages, err = removeDir(s.DocDir(docID))
	if err != nil {
		return 0, 0, err
	}
	covers, err = removeDir(s.CoverDir(docID))
	if err != nil {
		return pages, 0, err
	}
	return pages, covers, nil
}

// ListDocIDs returns the document ids that own asset directories under
// either root. Used by the orphan sweep.
func (s *Store) ListDocIDs() ([]string, error) {
	seen := map[string]bool{}
	for _, root := range []string{s.pageImagesDir, s.coversDir} {
		entries, err := os.ReadDir(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, amerrors.New(amerrors.ErrCodeFilePermission, "listing asset directories failed", err)
		}
		for _, e := range entries {
			if e.IsDir() && validation.ValidateDocID(e.Name()) == nil {
				seen[e.Name()] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// letterbox scales the image to fit the thumbnail box, centering it on
// a white background so every thumbnail has identical dimensions.
func (s *Store) letterbox(src image.Image) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, s.thumbWidth, s.thumbHeight))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return dst
	}

	scale := float64(s.thumbWidth) / float64(sb.Dx())
	if h := float64(s.thumbHeight) / float64(sb.Dy()); h < scale {
		scale = h
	}
	w := int(float64(sb.Dx()) * scale)
	h := int(float64(sb.Dy()) * scale)
	x := (s.thumbWidth - w) / 2
	y := (s.thumbHeight - h) / 2

	draw.CatmullRom.Scale(dst, image.Rect(x, y, x+w, y+h), src, sb, draw.Over, nil)
	return dst
}

func (s *Store) writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "writing thumbnail failed", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.jpegQuality}); err != nil {
		f.Close()
		return amerrors.New(amerrors.ErrCodeInternal, "encoding thumbnail failed", err)
	}
	return f.Close()
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "writing page image failed", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return amerrors.New(amerrors.ErrCodeInternal, "encoding page image failed", err)
	}
	return f.Close()
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFileNotFound, "reading page render failed", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorruptedData, "decoding page render failed", err).
			WithDetail("path", path)
	}
	return img, nil
}

func removeDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, amerrors.New(amerrors.ErrCodeFilePermission, "listing asset directory failed", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, amerrors.New(amerrors.ErrCodeFilePermission, "removing asset directory failed", err)
	}
	return len(entries), nil
}
