package bughash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator() *Generator {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewGenerator(log)
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestHash_Stable(t *testing.T) {
	g := testGenerator()
	dir := t.TempDir()

	src := writeSource(t, dir, "main.c",
		"int main() {\n  int *p = 0;\n  return *p;\n}\n")

	cols := []Column{{Begin: 10, End: 12}}

	first := g.Hash(src, 3, "core.NullDereference", "null deref", cols)
	second := g.Hash(src, 3, "core.NullDereference", "null deref", cols)

	assert.Equal(t, first, second)
	assert.Len(t, first, 32)
}

func TestHash_PathNormalization(t *testing.T) {
	g := testGenerator()

	dirA := t.TempDir()
	dirB := t.TempDir()

	content := "int main() {\n  return 0;\n}\n"
	srcA := writeSource(t, dirA, "main.c", content)
	srcB := writeSource(t, dirB, "main.c", content)

	// Different directories, same basename and line text: identical hash.
	hashA := g.Hash(srcA, 2, "chk", "msg", nil)
	hashB := g.Hash(srcB, 2, "chk", "msg", nil)
	assert.Equal(t, hashA, hashB)
}

func TestHash_SensitiveInputs(t *testing.T) {
	g := testGenerator()
	dir := t.TempDir()

	src := writeSource(t, dir, "main.c", "line one\nline two\n")
	base := g.Hash(src, 1, "chk", "msg", nil)

	assert.NotEqual(t, base, g.Hash(src, 2, "chk", "msg", nil),
		"different line text must change the hash")
	assert.NotEqual(t, base, g.Hash(src, 1, "other", "msg", nil),
		"checker name must change the hash")
	assert.NotEqual(t, base, g.Hash(src, 1, "chk", "other", nil),
		"message must change the hash")
	assert.NotEqual(t, base,
		g.Hash(src, 1, "chk", "msg", []Column{{Begin: 1, End: 5}}),
		"column deltas must change the hash")

	// Only the width of a column range matters, not its position.
	assert.Equal(t,
		g.Hash(src, 1, "chk", "msg", []Column{{Begin: 1, End: 5}}),
		g.Hash(src, 1, "chk", "msg", []Column{{Begin: 11, End: 15}}))
}

func TestHash_MissingFile(t *testing.T) {
	g := testGenerator()

	// A missing file degrades to an empty line but still hashes.
	hash := g.Hash("/does/not/exist.c", 7, "chk", "msg", nil)
	assert.Len(t, hash, 32)

	again := g.Hash("/does/not/exist.c", 7, "chk", "msg", nil)
	assert.Equal(t, hash, again)
}

func TestHash_LineOutOfRange(t *testing.T) {
	g := testGenerator()
	dir := t.TempDir()

	src := writeSource(t, dir, "short.c", "only line\n")

	// Line 100 does not exist; the hash equals the missing-line hash.
	assert.Equal(t,
		g.Hash(src, 100, "chk", "msg", nil),
		g.Hash(filepath.Join(dir, "short.c"), 200, "chk", "msg", nil))
}
