//go:build ignore

// Generates a synthetic documentation corpus for ingest and search
// benchmarking.
// Usage: go run scripts/generate-test-corpus.go -files 500 -output testdata/bench
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
	numFiles  = flag.Int("files", 500, "number of documents to generate")
	outputDir = flag.String("output", "testdata/bench", "output directory")
	seed      = flag.Int64("seed", 42, "random seed for reproducibility")
)

// Word pools shape a corpus with overlapping operational vocabulary, so
// benchmark queries hit realistic term distributions.
var (
	topics = []string{
		"authentication", "deployment", "caching", "billing", "monitoring",
		"migrations", "backups", "incidents", "onboarding", "networking",
		"storage", "releases", "compliance", "scheduling", "alerting",
	}
	subjects = []string{
		"the gateway", "the ingest pipeline", "the primary database",
		"the staging cluster", "the billing service", "the object store",
		"the message broker", "the search index", "the edge cache",
		"the backup runner",
	}
	actions = []string{
		"rotates credentials every ninety days",
		"drains connections before restarting",
		"retries failed writes with exponential backoff",
		"emits a metric for every rejected request",
		"snapshots its state to durable storage hourly",
		"validates configuration at startup",
		"falls back to the read replica under load",
		"pages the on-call engineer after three failures",
		"compacts stale segments during low traffic",
		"replays the event log after a crash",
	}
	cautions = []string{
		"Never run this step against production without a recent backup.",
		"Check the dashboard before and after each change.",
		"Roll back immediately if error rates exceed one percent.",
		"Coordinate with the owning team before changing quotas.",
		"Record the change in the operations log.",
	}
)

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))

	for _, d := range []string{"runbooks", "guides", "notes"} {
		if err := os.MkdirAll(filepath.Join(*outputDir, d), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", d, err)
			os.Exit(1)
		}
	}

	for i := 0; i < *numFiles; i++ {
		var err error
		switch i % 3 {
		case 0:
			err = writeRunbook(r, i)
		case 1:
			err = writeGuide(r, i)
		default:
			err = writeNote(r, i)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate document %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generated %d documents in %s\n", *numFiles, *outputDir)
}

func pick(r *rand.Rand, pool []string) string {
	return pool[r.Intn(len(pool))]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func paragraph(r *rand.Rand, topic string, sentences int) string {
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&sb, "For %s, %s %s. ", topic, pick(r, subjects), pick(r, actions))
	}
	return strings.TrimSpace(sb.String())
}

func writeRunbook(r *rand.Rand, i int) error {
	topic := pick(r, topics)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s runbook\n\n", capitalize(topic))
	fmt.Fprintf(&sb, "%s\n\n", paragraph(r, topic, 3))
	sb.WriteString("## Procedure\n\n")
	for step := 1; step <= 4; step++ {
		fmt.Fprintf(&sb, "%d. Confirm that %s %s.\n", step, pick(r, subjects), pick(r, actions))
	}
	fmt.Fprintf(&sb, "\n## Safety\n\n%s\n", pick(r, cautions))

	path := filepath.Join(*outputDir, "runbooks", fmt.Sprintf("%s-%03d.md", topic, i))
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func writeGuide(r *rand.Rand, i int) error {
	topic := pick(r, topics)
	other := pick(r, topics)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s guide\n\n", capitalize(topic))
	for section := 0; section < 3; section++ {
		fmt.Fprintf(&sb, "## Part %d\n\n%s\n\n", section+1, paragraph(r, topic, 4))
	}
	fmt.Fprintf(&sb, "See also the %s guide for the neighboring workflow.\n", other)

	path := filepath.Join(*outputDir, "guides", fmt.Sprintf("%s-%03d.md", topic, i))
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func writeNote(r *rand.Rand, i int) error {
	topic := pick(r, topics)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s notes\n\n", capitalize(topic))
	fmt.Fprintf(&sb, "%s\n\n%s\n", paragraph(r, topic, 2), pick(r, cautions))

	path := filepath.Join(*outputDir, "notes", fmt.Sprintf("%s-%03d.txt", topic, i))
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
