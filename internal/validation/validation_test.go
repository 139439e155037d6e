package validation

import (
	"path/filepath"
	"strings"
	"testing"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func TestValidateDocID(t *testing.T) {
	full := strings.Repeat("ab", 32) // 64 hex chars

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"full hash", full, false},
		{"eight char prefix", "deadbeef", false},
		{"forty char prefix", strings.Repeat("a1", 20), false},
		{"empty", "", true},
		{"too short", "abc123", true},
		{"too long", full + "ab", true},
		{"uppercase hex", "DEADBEEF", true},
		{"non hex", "zzzzzzzz", true},
		{"embedded slash", "deadbeef/..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDocID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && amerrors.GetCode(err) != amerrors.ErrCodeInvalidDocID {
				t.Errorf("ValidateDocID(%q) code = %s, want %s", tt.id, amerrors.GetCode(err), amerrors.ErrCodeInvalidDocID)
			}
		})
	}
}

func TestValidateFullDocID(t *testing.T) {
	full := strings.Repeat("0f", 32)

	if err := ValidateFullDocID(full); err != nil {
		t.Errorf("ValidateFullDocID(full) = %v, want nil", err)
	}

	// Prefixes are valid at the read boundary but not for writes
	if err := ValidateFullDocID("deadbeef"); err == nil {
		t.Error("ValidateFullDocID(prefix) = nil, want error")
	}
}

func TestIsFullDocID(t *testing.T) {
	if !IsFullDocID(strings.Repeat("ab", 32)) {
		t.Error("IsFullDocID(64 hex) = false, want true")
	}
	if IsFullDocID("deadbeef") {
		t.Error("IsFullDocID(8 hex) = true, want false")
	}
	if IsFullDocID(strings.Repeat("G", 64)) {
		t.Error("IsFullDocID(non-hex) = true, want false")
	}
}

func TestValidateAssetName(t *testing.T) {
	valid := []string{
		"page001.png",
		"page042.jpg",
		"page999_thumb.png",
		"page001_thumb.jpg",
		"cover.jpg",
		"cover.png",
	}
	for _, name := range valid {
		if err := ValidateAssetName(name); err != nil {
			t.Errorf("ValidateAssetName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"page1.png",         // not zero-padded
		"page0001.png",      // four digits
		"page001.gif",       // unsupported extension
		"cover.gif",         // unsupported extension
		"page001_thumb.gif", // unsupported extension
		"thumb_page001.png", // wrong shape
		"../page001.png",    // traversal
		"notes.md",          // arbitrary file
		"",                  // empty
	}
	for _, name := range invalid {
		if err := ValidateAssetName(name); err == nil {
			t.Errorf("ValidateAssetName(%q) = nil, want error", name)
		}
	}
}

func TestValidateUploadFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{"simple pdf", "report.pdf", false},
		{"spaces and unicode", "Q3 Bericht Übersicht.docx", false},
		{"empty", "", true},
		{"forward slash", "a/b.pdf", true},
		{"backslash", `a\b.pdf`, true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"too long", strings.Repeat("x", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUploadFilename(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUploadFilename(%q) error = %v, wantErr %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

func TestValidateQuery(t *testing.T) {
	if err := ValidateQuery("revenue growth drivers"); err != nil {
		t.Errorf("ValidateQuery(valid) = %v, want nil", err)
	}
	if err := ValidateQuery(""); err == nil {
		t.Error("ValidateQuery(empty) = nil, want error")
	}
	if err := ValidateQuery("   \t\n"); err == nil {
		t.Error("ValidateQuery(whitespace) = nil, want error")
	}
}

func TestValidatePage(t *testing.T) {
	if err := ValidatePage(1); err != nil {
		t.Errorf("ValidatePage(1) = %v, want nil", err)
	}
	if err := ValidatePage(0); err == nil {
		t.Error("ValidatePage(0) = nil, want error")
	}
	if err := ValidatePage(-3); err == nil {
		t.Error("ValidatePage(-3) = nil, want error")
	}
}

func TestResolveUnderRoot(t *testing.T) {
	root := t.TempDir()

	t.Run("simple name resolves inside root", func(t *testing.T) {
		got, err := ResolveUnderRoot(root, "report.pdf")
		if err != nil {
			t.Fatalf("ResolveUnderRoot() error = %v", err)
		}
		want := filepath.Join(root, "report.pdf")
		if got != want {
			t.Errorf("ResolveUnderRoot() = %q, want %q", got, want)
		}
	})

	t.Run("nested name resolves inside root", func(t *testing.T) {
		got, err := ResolveUnderRoot(root, filepath.Join("deadbeef", "page001.png"))
		if err != nil {
			t.Fatalf("ResolveUnderRoot() error = %v", err)
		}
		if !strings.HasPrefix(got, root) {
			t.Errorf("ResolveUnderRoot() = %q, escapes root %q", got, root)
		}
	})

	t.Run("traversal is denied", func(t *testing.T) {
		_, err := ResolveUnderRoot(root, filepath.Join("..", "etc", "passwd"))
		if err == nil {
			t.Fatal("ResolveUnderRoot(traversal) = nil, want error")
		}
		if amerrors.GetCode(err) != amerrors.ErrCodeAccessDenied {
			t.Errorf("code = %s, want %s", amerrors.GetCode(err), amerrors.ErrCodeAccessDenied)
		}
	})

	t.Run("interior traversal is denied", func(t *testing.T) {
		_, err := ResolveUnderRoot(root, "uploads/../../secrets.txt")
		if err == nil {
			t.Fatal("ResolveUnderRoot(interior traversal) = nil, want error")
		}
	})

	t.Run("absolute path is denied", func(t *testing.T) {
		_, err := ResolveUnderRoot(root, "/etc/passwd")
		if err == nil {
			t.Fatal("ResolveUnderRoot(absolute) = nil, want error")
		}
		if amerrors.GetCode(err) != amerrors.ErrCodeAccessDenied {
			t.Errorf("code = %s, want %s", amerrors.GetCode(err), amerrors.ErrCodeAccessDenied)
		}
	})

	t.Run("null byte is denied", func(t *testing.T) {
		_, err := ResolveUnderRoot(root, "report\x00.pdf")
		if err == nil {
			t.Fatal("ResolveUnderRoot(null byte) = nil, want error")
		}
	})
}
