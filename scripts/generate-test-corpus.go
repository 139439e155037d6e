//go:build ignore

// Package main generates a synthetic document corpus for ingestion benchmarking.
// The output files are plain markdown and text, suitable for copying into the
// drop folder or uploading through /documents/upload.
//
// Usage: go run scripts/generate-test-corpus.go -files 200 -output testdata/corpus
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 200, "Number of documents to generate")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
	sections  = flag.Int("sections", 8, "Sections per markdown document")
)

var reportTemplate = `# %s %s Report

Prepared by the %s team.

## Executive Summary

The %s initiative %s during the reporting period. Key drivers were
%s volume and %s efficiency. The team recommends continued investment
in %s capacity through the next quarter.

`

var sectionTemplate = `## %s

%s

| Metric | Current | Previous | Change |
|--------|---------|----------|--------|
| %s | %d | %d | %+d%% |
| %s | %d | %d | %+d%% |

%s

`

var noteTemplate = `%s — %s notes

Attendees: %s, %s, %s

Discussion:
%s

Action items:
- %s owns the %s follow-up
- %s to draft the %s proposal
- Review %s numbers before the next sync

`

// Word pools for generating plausible business-document text.
var (
	orgs = []string{
		"Acme", "Northwind", "Globex", "Initech", "Umbrella",
		"Stark", "Wayne", "Cyberdyne", "Aperture", "Tyrell",
	}
	reportKinds = []string{
		"Quarterly", "Annual", "Monthly", "Operations", "Financial",
		"Compliance", "Engineering", "Marketing", "Sustainability", "Audit",
	}
	teams = []string{
		"platform", "finance", "operations", "research", "logistics",
		"procurement", "analytics", "support", "infrastructure", "sales",
	}
	metrics = []string{
		"Revenue", "Throughput", "Latency", "Headcount", "Utilization",
		"Conversion", "Retention", "Capacity", "Backlog", "Uptime",
	}
	outcomes = []string{
		"exceeded all targets", "met expectations", "fell short of projections",
		"stabilized after a volatile start", "showed accelerating growth",
	}
	people = []string{
		"Jordan", "Casey", "Morgan", "Riley", "Avery",
		"Quinn", "Taylor", "Rowan", "Sasha", "Devon",
	}
	topics = []string{
		"pricing", "migration", "onboarding", "capacity planning", "vendor review",
		"incident response", "roadmap", "budget", "hiring", "tooling",
	}
	fillerSentences = []string{
		"Demand in the APAC region continued to outpace forecasts.",
		"The rollout completed two weeks ahead of schedule with no customer impact.",
		"Supply constraints eased in the second half of the period.",
		"Customer feedback highlighted reliability as the top priority.",
		"Cost per unit declined for the third consecutive quarter.",
		"The audit surfaced no material findings.",
		"Churn concentrated in the self-serve tier.",
		"Infrastructure spend tracked within two percent of plan.",
		"The pilot program expanded to twelve additional sites.",
		"Hiring slowed while the reorganization settled.",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	for _, sub := range []string{"reports", "notes"} {
		if err := os.MkdirAll(filepath.Join(*outputDir, sub), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d documents in %s...\n", *numFiles, *outputDir)

	// 70% markdown reports, 30% plain-text meeting notes.
	reports := *numFiles * 70 / 100
	notes := *numFiles - reports

	generated := 0
	for i := 0; i < reports; i++ {
		if err := generateReport(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating report %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < notes; i++ {
		if err := generateNotes(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating notes %d: %v\n", i, err)
			continue
		}
		generated++
	}

	fmt.Printf("Generated %d documents successfully.\n", generated)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func paragraph(rng *rand.Rand, sentences int) string {
	parts := make([]string, sentences)
	for i := range parts {
		parts[i] = pick(rng, fillerSentences)
	}
	return strings.Join(parts, " ")
}

func generateReport(rng *rand.Rand, index int) error {
	org := pick(rng, orgs)
	kind := pick(rng, reportKinds)

	var b strings.Builder
	fmt.Fprintf(&b, reportTemplate,
		org, kind,
		pick(rng, teams),
		pick(rng, topics), pick(rng, outcomes),
		pick(rng, teams), pick(rng, teams), pick(rng, teams),
	)

	for s := 0; s < *sections; s++ {
		cur1, cur2 := rng.Intn(9000)+1000, rng.Intn(9000)+1000
		fmt.Fprintf(&b, sectionTemplate,
			pick(rng, metrics)+" Analysis",
			paragraph(rng, 3+rng.Intn(3)),
			pick(rng, metrics), cur1, cur1-rng.Intn(500), rng.Intn(41)-20,
			pick(rng, metrics), cur2, cur2-rng.Intn(500), rng.Intn(41)-20,
			paragraph(rng, 2+rng.Intn(3)),
		)
	}

	name := fmt.Sprintf("%s_%s_%d.md", strings.ToLower(org), strings.ToLower(kind), index)
	return os.WriteFile(filepath.Join(*outputDir, "reports", name), []byte(b.String()), 0o644)
}

func generateNotes(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)
	content := fmt.Sprintf(noteTemplate,
		fmt.Sprintf("2026-%02d-%02d", rng.Intn(12)+1, rng.Intn(28)+1),
		topic,
		pick(rng, people), pick(rng, people), pick(rng, people),
		paragraph(rng, 4+rng.Intn(4)),
		pick(rng, people), topic,
		pick(rng, people), pick(rng, topics),
		pick(rng, metrics),
	)

	name := fmt.Sprintf("%s_notes_%d.txt", strings.ReplaceAll(topic, " ", "_"), index)
	return os.WriteFile(filepath.Join(*outputDir, "notes", name), []byte(content), 0o644)
}
