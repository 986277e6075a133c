package functional

import (
	"regexp"
	"strconv"
	"strings"
)

var surefireRegex = regexp.MustCompile(`Tests run:\s*(\d+),\s*Failures:\s*(\d+),\s*Errors:\s*(\d+),\s*Skipped:\s*(\d+)`)

// Counts is what could be recovered from runner output
type Counts struct {
	Total    int
	Failures int
	Errors   int
	Skipped  int
	// BuildResult is "SUCCESS", "FAILURE" or empty when no build verdict was printed
	BuildResult string
	// Found is false when no recognised token appeared
	Found bool
}

// ScanOutput extracts test counts from combined runner output. Maven surefire
// aggregate lines ("Tests run: N, Failures: F, Errors: E, Skipped: S" without
// a "Time elapsed" suffix) are summed across modules; when the run was cut
// short before any aggregate, the per-class lines are summed instead. go test
// "--- PASS/FAIL/SKIP" lines are counted as well.
func ScanOutput(output string) Counts {
	var (
		c                Counts
		aggregate, class [4]int
		sawAggregate     bool
		goPass, goFail   int
		goSkip           int
	)

	// no line length limit
	for rest := output; rest != ""; {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		line = strings.TrimSuffix(line, "\r")

		if m := surefireRegex.FindStringSubmatch(line); m != nil {
			c.Found = true
			target := &class
			if !strings.Contains(line, "Time elapsed") {
				target = &aggregate
				sawAggregate = true
			}
			for i := 0; i < 4; i++ {
				n, _ := strconv.Atoi(m[i+1])
				target[i] += n
			}
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "BUILD SUCCESS"):
			c.Found = true
			c.BuildResult = "SUCCESS"
		case strings.Contains(line, "BUILD FAILURE"):
			c.Found = true
			c.BuildResult = "FAILURE"
		case strings.HasPrefix(trimmed, "--- PASS:"):
			goPass++
		case strings.HasPrefix(trimmed, "--- FAIL:"):
			goFail++
		case strings.HasPrefix(trimmed, "--- SKIP:"):
			goSkip++
		}
	}

	counts := class
	if sawAggregate {
		counts = aggregate
	}
	c.Total, c.Failures, c.Errors, c.Skipped = counts[0], counts[1], counts[2], counts[3]

	if goPass+goFail+goSkip > 0 {
		c.Found = true
		c.Total += goPass + goFail + goSkip
		c.Failures += goFail
		c.Skipped += goSkip
	}

	return c
}
