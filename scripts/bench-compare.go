//go:build ignore

// Compares two `go test -bench` output files and fails on regressions.
// Repeated runs of the same benchmark (go test -count=N) are averaged.
// Usage: go run scripts/bench-compare.go [-threshold 0.2] <baseline.txt> <current.txt>
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	threshold = flag.Float64("threshold", 0.20, "fractional slowdown treated as a regression")
	showAll   = flag.Bool("all", false, "print unchanged benchmarks too")
)

// benchLine matches "BenchmarkName-8   1000   1234 ns/op" prefixes; the
// GOMAXPROCS suffix is stripped so runs from different machines compare.
var benchLine = regexp.MustCompile(`^(Benchmark\S+?)(?:-\d+)?\s+\d+\s+([\d.]+) ns/op`)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/bench-compare.go [options] <baseline.txt> <current.txt>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	baseline, err := readBench(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read baseline: %v\n", err)
		os.Exit(2)
	}
	current, err := readBench(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read current: %v\n", err)
		os.Exit(2)
	}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	regressions := 0
	for _, name := range names {
		curr := current[name]
		base, ok := baseline[name]
		if !ok {
			fmt.Printf("  new     %-45s %12.0f ns/op\n", name, curr)
			continue
		}
		delta := (curr - base) / base
		switch {
		case delta > *threshold:
			regressions++
			fmt.Printf("  SLOWER  %-45s %12.0f -> %.0f ns/op (%+.1f%%)\n", name, base, curr, delta*100)
		case delta < -*threshold:
			fmt.Printf("  faster  %-45s %12.0f -> %.0f ns/op (%+.1f%%)\n", name, base, curr, delta*100)
		case *showAll:
			fmt.Printf("  ok      %-45s %12.0f -> %.0f ns/op (%+.1f%%)\n", name, base, curr, delta*100)
		}
	}

	if regressions > 0 {
		fmt.Fprintf(os.Stderr, "%d benchmark(s) regressed beyond %.0f%%\n", regressions, *threshold*100)
		os.Exit(1)
	}
	fmt.Println("No regressions.")
}

// readBench parses benchmark names and ns/op values, averaging repeats.
func readBench(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sums := make(map[string]float64)
	counts := make(map[string]int)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := benchLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		ns, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		sums[m[1]] += ns
		counts[m[1]]++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(sums))
	for name, sum := range sums {
		out[name] = sum / float64(counts[name])
	}
	return out, nil
}
