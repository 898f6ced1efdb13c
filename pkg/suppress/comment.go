package suppress

import (
	"os"
	"regexp"
	"strings"
)

// markerRe matches the first line of a suppression comment block:
// `// codechecker_suppress [checker1, checker2] free text`.
var markerRe = regexp.MustCompile(
	`^//\s*codechecker_suppress\s*\[([^\]]*)\]\s*(.*)$`,
)

// FindComment scans the consecutive `//` comment lines immediately above
// the 1-based reportLine for a suppression marker covering checkerID. The
// bare list `[all]` covers every checker. The returned comment is the text
// after the bracket plus any continuation comment lines. Malformed markers
// (not adjacent to the code line, empty checker list) mean no suppression.
func FindComment(
	src []byte, reportLine int, checkerID string,
) (bool, string) {
	lines := strings.Split(string(src), "\n")

	// Index of the line directly above the flagged code line.
	end := reportLine - 2
	if end < 0 || end >= len(lines) {
		return false, ""
	}

	start := end
	for start >= 0 && isCommentLine(lines[start]) {
		start--
	}

	start++

	if start > end {
		return false, ""
	}

	m := markerRe.FindStringSubmatch(strings.TrimSpace(lines[start]))
	if m == nil {
		return false, ""
	}

	if !checkerListed(m[1], checkerID) {
		return false, ""
	}

	parts := make([]string, 0, end-start+2)
	if text := strings.TrimSpace(m[2]); text != "" {
		parts = append(parts, text)
	}

	for i := start + 1; i <= end; i++ {
		text := strings.TrimSpace(
			strings.TrimPrefix(strings.TrimSpace(lines[i]), "//"),
		)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return true, strings.Join(parts, " ")
}

// FindCommentInFile reads the source file and applies FindComment. A
// missing or unreadable file yields no suppression.
func FindCommentInFile(
	path string, reportLine int, checkerID string,
) (bool, string) {
	src, err := os.ReadFile(path)
	if err != nil {
		return false, ""
	}

	return FindComment(src, reportLine, checkerID)
}

func isCommentLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "//")
}

// checkerListed reports whether the bracketed checker list names checkerID
// or the `all` wildcard. A blank list suppresses nothing.
func checkerListed(list, checkerID string) bool {
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if name == "all" || name == checkerID {
			return true
		}
	}

	return false
}
