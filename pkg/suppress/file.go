// Package suppress manages known-false-positive suppressions: the
// line-oriented external suppress file, the in-source suppression comment
// grammar, and the manager that keeps both consistent with the database.
package suppress

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Entry is one suppress-file line: either a bug-hash suppression
// (`<hash>#<type> || <comment>`) or a path suppression
// (`<path> || <comment>`). A line without `||` carries an empty comment.
type Entry struct {
	BugHash  string `json:"bug_hash,omitempty"`
	HashType int    `json:"hash_type,omitempty"`
	Path     string `json:"path,omitempty"`
	Comment  string `json:"comment"`
}

// IsPath reports whether the entry suppresses by path glob instead of hash.
func (e Entry) IsPath() bool {
	return e.Path != ""
}

const fieldSeparator = "||"

var hashKeyRe = regexp.MustCompile(`^([0-9a-fA-F]+)#(\d+)$`)

// ParseFile reads a suppress file. A missing file is an empty suppression
// set, not an error.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("opening suppress file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		entries = append(entries, ParseLine(line))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading suppress file: %w", err)
	}

	return entries, nil
}

// ParseLine decodes one suppress-file line.
func ParseLine(line string) Entry {
	key := line
	comment := ""

	if idx := strings.Index(line, fieldSeparator); idx >= 0 {
		key = strings.TrimSpace(line[:idx])
		comment = strings.TrimSpace(line[idx+len(fieldSeparator):])
	}

	if m := hashKeyRe.FindStringSubmatch(key); m != nil {
		hashType, _ := strconv.Atoi(m[2])

		return Entry{BugHash: m[1], HashType: hashType, Comment: comment}
	}

	return Entry{Path: key, Comment: comment}
}

// FormatEntry encodes an entry as one suppress-file line.
func FormatEntry(e Entry) string {
	key := e.Path
	if !e.IsPath() {
		key = fmt.Sprintf("%s#%d", e.BugHash, e.HashType)
	}

	if e.Comment == "" {
		return key
	}

	return key + " " + fieldSeparator + " " + e.Comment
}

// WriteFile rewrites the suppress file atomically so a failed write never
// leaves a half-written suppression set behind.
func WriteFile(path string, entries []Entry) error {
	var sb strings.Builder

	for _, e := range entries {
		sb.WriteString(FormatEntry(e))
		sb.WriteByte('\n')
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing suppress file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("replacing suppress file: %w", err)
	}

	return nil
}
