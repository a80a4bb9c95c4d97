// Command coveragegate fails CI when the coverage profile of the rtm package
// drops below per-tier thresholds. Core files hold pure logic and are held to
// a stricter bar than transport files, whose dial and teardown paths depend
// on live connections.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

type coverage struct {
	covered int
	total   int
}

// tier groups files gated by one threshold.
type tier struct {
	name      string
	threshold *float64
	files     []string
}

var coreFiles = []string{
	"rtm/errors.go",
	"rtm/position.go",
	"rtm/client.go",
	"rtm/registry.go",
	"rtm/loop.go",
	"rtm/backoff.go",
	"rtm/config.go",
}

var transportFiles = []string{
	"rtm/wsclient.go",
	"rtm/resilient.go",
	"rtm/affinity.go",
}

func parseProfile(path string) (map[string]coverage, error) {
	file, err := os.Open(path) // #nosec G304 -- path is explicitly provided by local CI/operator input
	if err != nil {
		return nil, err
	}
	defer file.Close()

	result := map[string]coverage{}
	scanner := bufio.NewScanner(file)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		fileRange := fields[0]
		statements, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid statement count in line %q: %w", line, err)
		}
		hitCount, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("invalid hit count in line %q: %w", line, err)
		}

		parts := strings.SplitN(fileRange, ":", 2)
		if len(parts) != 2 {
			continue
		}
		fileName := parts[0]
		entry := result[fileName]
		entry.total += statements
		if hitCount > 0 {
			entry.covered += statements
		}
		result[fileName] = entry
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func findCoverage(files map[string]coverage, suffix string) (coverage, bool) {
	for fileName, cov := range files {
		if strings.HasSuffix(fileName, suffix) {
			return cov, true
		}
	}
	return coverage{}, false
}

func pct(c coverage) float64 {
	if c.total == 0 {
		return 0
	}
	return (float64(c.covered) * 100.0) / float64(c.total)
}

func gateTier(files map[string]coverage, gated tier, failures []string) []string {
	for _, fileName := range gated.files {
		fileCov, ok := findCoverage(files, fileName)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s file %s is missing from coverage profile", gated.name, fileName))
			continue
		}
		filePct := pct(fileCov)
		if filePct+1e-9 < *gated.threshold {
			failures = append(failures, fmt.Sprintf("%s file %s is %.1f%% (required %.1f%%)", gated.name, fileName, filePct, *gated.threshold))
		}
	}
	return failures
}

func main() {
	profilePath := flag.String("profile", "coverage.out", "path to go coverage profile")
	overallThreshold := flag.Float64("overall", 90.0, "minimum aggregate coverage percentage")
	coreThreshold := flag.Float64("core", 95.0, "minimum core file coverage percentage")
	transportThreshold := flag.Float64("transport", 80.0, "minimum transport file coverage percentage")
	flag.Parse()

	files, err := parseProfile(*profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coverage gate failed reading profile: %v\n", err)
		os.Exit(1)
	}

	total := coverage{}
	for _, fileCov := range files {
		total.covered += fileCov.covered
		total.total += fileCov.total
	}
	overall := pct(total)

	failures := make([]string, 0)
	if overall+1e-9 < *overallThreshold {
		failures = append(failures, fmt.Sprintf("aggregate coverage %.1f%% is below %.1f%%", overall, *overallThreshold))
	}
	failures = gateTier(files, tier{name: "core", threshold: coreThreshold, files: coreFiles}, failures)
	failures = gateTier(files, tier{name: "transport", threshold: transportThreshold, files: transportFiles}, failures)

	sort.Strings(failures)

	fmt.Printf("aggregate: %.1f%% (%d/%d)\n", overall, total.covered, total.total)
	if len(failures) == 0 {
		fmt.Println("coverage gate: PASS")
		return
	}

	fmt.Println("coverage gate: FAIL")
	for _, failure := range failures {
		fmt.Printf("- %s\n", failure)
	}
	os.Exit(2)
}
