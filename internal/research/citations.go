package research

import (
	"log/slog"
	"regexp"
	"strconv"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// ParseCitations scans the answer for [N] markers. Markers referring
// to an index outside 1..numSources are removed from the answer and
// logged. Returns the cleaned answer and the sorted distinct indices
// that were cited.
func ParseCitations(answer string, numSources int, logger *slog.Logger) (string, []int) {
	seen := make(map[int]bool)
	cleaned := citationPattern.ReplaceAllStringFunc(answer, func(marker string) string {
		n, err := strconv.Atoi(citationPattern.FindStringSubmatch(marker)[1])
		if err != nil || n < 1 || n > numSources {
			if logger != nil {
				logger.Warn("dropped citation to unknown source",
					slog.String("marker", marker),
					slog.Int("sources", numSources))
			}
			return ""
		}
		seen[n] = true
		return marker
	})

	cited := make([]int, 0, len(seen))
	for n := 1; n <= numSources; n++ {
		if seen[n] {
			cited = append(cited, n)
		}
	}
	return cleaned, cited
}

// RewriteCitations applies a source mapping table to [N] markers,
// replacing each old index with its new one. Markers absent from the
// table cite sources the mapping collapsed away and are removed. Used
// when preprocessing filters the source set.
func RewriteCitations(answer string, mapping map[int]int) string {
	if len(mapping) == 0 {
		return answer
	}
	return citationPattern.ReplaceAllStringFunc(answer, func(marker string) string {
		n, err := strconv.Atoi(citationPattern.FindStringSubmatch(marker)[1])
		if err != nil {
			return marker
		}
		if replacement, ok := mapping[n]; ok {
			return "[" + strconv.Itoa(replacement) + "]"
		}
		return ""
	})
}
