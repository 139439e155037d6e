package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_RoutesByExtension(t *testing.T) {
	cases := map[string]FormatType{
		"report.pdf":        FormatVisual,
		"scan.PNG":          FormatVisual,
		"photo.jpeg":        FormatVisual,
		"diagram.webp":      FormatVisual,
		"notes.md":          FormatTextOnly,
		"sheet.xlsx":        FormatTextOnly,
		"deck.pptx":         FormatTextOnly,
		"page.xhtml":        FormatTextOnly,
		"captions.vtt":      FormatTextOnly,
		"data.json":         FormatTextOnly,
		"episode.mp3":       FormatAudio,
		"recording.WAV":     FormatAudio,
		"memo.doc":          FormatLegacyOffice,
		"template.dot":      FormatLegacyOffice,
		"archive.zip":       FormatUnsupported,
		"noextension":       FormatUnsupported,
		"weird.tar.gz":      FormatUnsupported,
		"dir/nested/a.docx": FormatTextOnly,
	}

	for filename, want := range cases {
		assert.Equal(t, want, Classify(filename), filename)
	}
}

func TestSupportedExtensions_CoversEveryRoute(t *testing.T) {
	exts := SupportedExtensions()

	assert.Contains(t, exts, "pdf")
	assert.Contains(t, exts, "mp3")
	assert.Contains(t, exts, "doc")
	assert.NotContains(t, exts, "zip")
}
