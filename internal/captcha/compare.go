package captcha

import (
	"math"
	"strconv"
	"strings"

	"verifykit/internal/domain"
)

// CompareSlide accepts a drag distance within tolerance of targetX, inclusive.
func CompareSlide(distance, targetX, tolerance float64) bool {
	return math.Abs(distance-targetX) <= tolerance
}

// ComparePoints pairs targets[i] with clicks[i]; there is no nearest-target
// matching, so correct positions clicked out of order fail.
func ComparePoints(targets []domain.Point, clicks []domain.Point, tolerance float64, metric Metric) bool {
	if len(targets) != len(clicks) {
		return false
	}
	for i := range targets {
		if !withinTolerance(targets[i], clicks[i], tolerance, metric) {
			return false
		}
	}
	return true
}

func withinTolerance(target, click domain.Point, tolerance float64, metric Metric) bool {
	if metric == MetricPerAxis {
		return math.Abs(target.X-click.X) <= tolerance && math.Abs(target.Y-click.Y) <= tolerance
	}
	return Distance(target, click) <= tolerance
}

// CompareCode compares trimmed input with the expected code ignoring case.
func CompareCode(input, expected string) bool {
	input = strings.TrimSpace(input)
	return input != "" && strings.EqualFold(input, expected)
}

// CompareArithmetic parses trimmed input as an integer and requires an exact match.
func CompareArithmetic(input string, expected int) bool {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return false
	}
	return n == expected
}
