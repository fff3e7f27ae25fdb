//go:build ignore

// Generates a synthetic document corpus for indexing and retrieval
// benchmarks. Usage: go run scripts/generate-test-corpus.go -files 500 -output testdata/bench
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
	numFiles  = flag.Int("files", 500, "Number of files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var headings = []string{
	"OVERVIEW", "INSTALLATION", "MAINTENANCE SCHEDULE", "TROUBLESHOOTING",
	"ELECTRICAL SPECIFICATIONS", "SAFETY PRECAUTIONS", "SPARE PARTS",
}

var sentences = []string{
	"The pump operates at %d rpm under nominal load.",
	"Replace the filter cartridge every %d operating hours.",
	"The relief valve opens at %d bar and reseats automatically.",
	"Tighten the terminal screws to %d Nm.",
	"The fuse rating for the control circuit is %d amps.",
	"Ambient temperature must stay below %d degrees Celsius.",
	"The warranty covers defects for %d months from commissioning.",
	"Clearance around the enclosure must be at least %d millimeters.",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numFiles; i++ {
		var sb strings.Builder
		sections := 2 + rng.Intn(4)
		for s := 0; s < sections; s++ {
			sb.WriteString(headings[rng.Intn(len(headings))])
			sb.WriteString("\n\n")
			paragraphs := 1 + rng.Intn(3)
			for p := 0; p < paragraphs; p++ {
				lines := 3 + rng.Intn(5)
				for l := 0; l < lines; l++ {
					fmt.Fprintf(&sb, sentences[rng.Intn(len(sentences))], 1+rng.Intn(400))
					sb.WriteByte(' ')
				}
				sb.WriteString("\n\n")
			}
		}

		name := fmt.Sprintf("manual-%04d.txt", i)
		if err := os.WriteFile(filepath.Join(*outputDir, name), []byte(sb.String()), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Printf("generated %d files in %s\n", *numFiles, *outputDir)
}
