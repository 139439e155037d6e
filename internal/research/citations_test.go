package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCitations_EnumeratesDistinctMarkers(t *testing.T) {
	answer := "Revenue grew 14% [1]. Costs fell [2][3]. Margins improved [1]."

	cleaned, cited := ParseCitations(answer, 3, nil)

	assert.Equal(t, answer, cleaned)
	assert.Equal(t, []int{1, 2, 3}, cited)
}

func TestParseCitations_DropsUnknownIndices(t *testing.T) {
	answer := "Known fact [2]. Hallucinated fact [9]. Zero is invalid [0]."

	cleaned, cited := ParseCitations(answer, 3, nil)

	assert.Equal(t, "Known fact [2]. Hallucinated fact . Zero is invalid .", cleaned)
	assert.Equal(t, []int{2}, cited)
}

func TestParseCitations_NoMarkers(t *testing.T) {
	cleaned, cited := ParseCitations("The sources do not cover this.", 5, nil)

	assert.Equal(t, "The sources do not cover this.", cleaned)
	assert.Empty(t, cited)
}

func TestRewriteCitations_AppliesMapping(t *testing.T) {
	answer := "Kept fact [1]. Another kept fact [3]. Dropped fact [2]."

	out := RewriteCitations(answer, map[int]int{1: 1, 3: 2})

	assert.Equal(t, "Kept fact [1]. Another kept fact [2]. Dropped fact .", out)
}

func TestRewriteCitations_EmptyMappingIsIdentity(t *testing.T) {
	answer := "Fact [1]."

	assert.Equal(t, answer, RewriteCitations(answer, nil))
}
