// Package bughash computes the fallback fuzzy identity hash for defects
// whose analyzer did not supply one. Analyzer-supplied hashes always take
// precedence; this hash only has to be stable across re-runs of the same
// analyzer against unchanged source.
package bughash

import (
	"bufio"
	"crypto/md5" //nolint:gosec // Identity fingerprint, not a security hash.
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// HashTypeFuzzy tags locally computed hashes in suppress records; analyzer
// hashes carry their own type values.
const HashTypeFuzzy = 1

// Column is the (begin, end) column pair of one bug-path point.
type Column struct {
	Begin int
	End   int
}

// Generator computes fallback hashes.
type Generator struct {
	log logrus.FieldLogger
}

// NewGenerator creates a hash generator.
func NewGenerator(log logrus.FieldLogger) *Generator {
	return &Generator{
		log: log.WithField("component", "bughash"),
	}
}

// Hash fingerprints a diagnostic from its file, checker, message, the
// literal text of the implicated source line, and the column deltas of its
// path points. The path is reduced to the file's basename so absolute and
// working-directory-relative paths hash identically. A missing or renamed
// source file is tolerated: the line contributes as empty.
func (g *Generator) Hash(
	path string, line int, checkerName, message string, cols []Column,
) string {
	lineText := g.sourceLine(path, line)

	var sb strings.Builder

	sb.WriteString(filepath.Base(path))
	sb.WriteByte('|')
	sb.WriteString(checkerName)
	sb.WriteByte('|')
	sb.WriteString(message)
	sb.WriteByte('|')
	sb.WriteString(lineText)

	for _, c := range cols {
		fmt.Fprintf(&sb, "|%d", c.End-c.Begin)
	}

	//nolint:gosec // Identity fingerprint, not a security hash.
	sum := md5.Sum([]byte(sb.String()))

	return hex.EncodeToString(sum[:])
}

// sourceLine reads one 1-based line from a source file. Failures are logged
// and produce an empty line rather than an error; the hash degrades but the
// report still gets stored.
func (g *Generator) sourceLine(path string, line int) string {
	f, err := os.Open(path)
	if err != nil {
		g.log.WithError(err).
			WithField("file", path).
			Debug("Source file unavailable for hashing")

		return ""
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for n := 1; scanner.Scan(); n++ {
		if n == line {
			return scanner.Text()
		}
	}

	if err := scanner.Err(); err != nil {
		g.log.WithError(err).
			WithField("file", path).
			Debug("Reading source line failed")
	}

	return ""
}
