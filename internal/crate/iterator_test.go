package crate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/crate/internal/errors"
)

func TestBuildFromDirectory(t *testing.T) {
	c, dir := newCrate(t)
	base := filepath.Join(dir, "project")
	writeFile(t, filepath.Join(base, "test", "sub.txt"), "")
	writeFile(t, filepath.Join(base, "test", "sub", "test.php"), "<?php echo \"Hello, @name@!\\n\";")

	require.NoError(t, c.SetValues(map[string]any{"@name@": "world"}))
	require.NoError(t, c.BuildFromDirectory(context.Background(), base, `/\.php$/`))

	assert.False(t, c.Archive().Has("test/sub.txt"))
	assert.Equal(t, "<?php echo \"Hello, world!\\n\";", entryData(t, c, "test/sub/test.php"))
}

func TestBuildFromDirectoryWithoutPattern(t *testing.T) {
	c, dir := newCrate(t)
	base := filepath.Join(dir, "project")
	writeFile(t, filepath.Join(base, "a.txt"), "a")
	writeFile(t, filepath.Join(base, "b", "c.php"), "c")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "empty"), 0o755))

	require.NoError(t, c.BuildFromDirectory(context.Background(), base, ""))

	assert.Equal(t, 2, c.Archive().Len())
	assert.Equal(t, "a", entryData(t, c, "a.txt"))
	assert.Equal(t, "c", entryData(t, c, "b/c.php"))
}

func TestBuildFromDirectorySymlinkedFile(t *testing.T) {
	c, dir := newCrate(t)
	base := filepath.Join(dir, "base")
	writeFile(t, filepath.Join(dir, "shared", "lib.php"), "<?php // lib")
	writeFile(t, filepath.Join(dir, "shared", "inner", "skip.php"), "<?php // skip")
	writeFile(t, filepath.Join(base, "main.php"), "<?php // main")
	require.NoError(t, os.Symlink(filepath.Join("..", "shared", "lib.php"), filepath.Join(base, "lib.php")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "shared", "inner"), filepath.Join(base, "inner")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "nowhere.php"), filepath.Join(base, "dangling.php")))

	require.NoError(t, c.BuildFromDirectory(context.Background(), base, `/\.php$/`))

	assert.Equal(t, 2, c.Archive().Len())
	assert.Equal(t, "<?php // lib", entryData(t, c, "lib.php"))
	assert.Equal(t, "<?php // main", entryData(t, c, "main.php"))
	assert.False(t, c.Archive().Has("inner/skip.php"))
}

func TestBuildFromDirectorySymlinkedBase(t *testing.T) {
	c, dir := newCrate(t)
	writeFile(t, filepath.Join(dir, "real", "a.php"), "a")
	writeFile(t, filepath.Join(dir, "real", "sub", "b.php"), "b")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), link))

	require.NoError(t, c.BuildFromDirectory(context.Background(), link, ""))

	assert.Equal(t, 2, c.Archive().Len())
	assert.Equal(t, "a", entryData(t, c, "a.php"))
	assert.Equal(t, "b", entryData(t, c, "sub/b.php"))
}

func TestWalkDirKeysUseRootPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "real", "a.php"), "a")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), link))

	var keys []any
	for key, value := range WalkDir(link) {
		keys = append(keys, key)
		assert.Equal(t, FileRef(filepath.Join(link, "a.php")), value)
	}
	assert.Equal(t, []any{filepath.Join(link, "a.php")}, keys)
}

func TestBuildFromDirectoryMissing(t *testing.T) {
	c, dir := newCrate(t)

	err := c.BuildFromDirectory(context.Background(), filepath.Join(dir, "missing"), "")
	require.Error(t, err)
	assert.True(t, errors.IsFileError(err))
}

func TestBuildFromDirectoryInvalidPattern(t *testing.T) {
	c, dir := newCrate(t)

	err := c.BuildFromDirectory(context.Background(), dir, "/(/")
	require.Error(t, err)
	assert.True(t, errors.IsArgumentError(err))
}

func TestBuildFromIterator(t *testing.T) {
	c, dir := newCrate(t)
	base := filepath.Join(dir, "project")
	writeFile(t, filepath.Join(base, "test", "sub", "test.php"), "<?php echo \"Hello, @name@!\\n\";")

	require.NoError(t, c.SetValues(map[string]any{"@name@": "world"}))
	require.NoError(t, c.BuildFromIterator(context.Background(), WalkDir(base), base))

	assert.Equal(t, "<?php echo \"Hello, world!\\n\";", entryData(t, c, "test/sub/test.php"))
}

func TestBuildFromIteratorMixed(t *testing.T) {
	c, dir := newCrate(t)
	base := filepath.Join(dir, "project")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "object"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "string"), 0o755))
	writeFile(t, filepath.Join(base, "object.php"), "")
	writeFile(t, filepath.Join(base, "string.php"), "")

	require.NoError(t, c.BuildFromIterator(context.Background(), Items(
		Item{"object", FileRef(filepath.Join(base, "object"))},
		Item{"string", filepath.Join(base, "string")},
		Item{"object.php", FileRef(filepath.Join(base, "object.php"))},
		Item{"string.php", filepath.Join(base, "string.php")},
	), base))

	for name, dir := range map[string]bool{
		"object":     true,
		"string":     true,
		"object.php": false,
		"string.php": false,
	} {
		e, ok := c.Archive().Entry(name)
		require.True(t, ok, name)
		assert.Equal(t, dir, e.Dir, name)
	}
}

func TestBuildFromIteratorBaseRequired(t *testing.T) {
	c, dir := newCrate(t)

	err := c.BuildFromIterator(context.Background(), Items(Item{0, FileRef(dir)}), "")
	require.Error(t, err)
	assert.True(t, errors.IsArgumentError(err))
	assert.Equal(t, "The base argument is required for file reference values.", err.Error())
}

func TestBuildFromIteratorOutsideBase(t *testing.T) {
	c, dir := newCrate(t)
	other := t.TempDir()

	err := c.BuildFromIterator(context.Background(), Items(Item{0, FileRef(dir)}), other)
	require.Error(t, err)
	assert.True(t, errors.IsUnexpectedValueError(err))
	assert.Equal(t, `The file "`+dir+`" is not in the base directory.`, err.Error())

	// A sibling sharing the base as a name prefix is still outside.
	sibling := dir + "-sibling"
	err = c.BuildFromIterator(context.Background(), Items(Item{0, FileRef(sibling)}), dir)
	require.Error(t, err)
	assert.True(t, errors.IsUnexpectedValueError(err))
}

func TestBuildFromIteratorInvalidKey(t *testing.T) {
	c, _ := newCrate(t)

	err := c.BuildFromIterator(context.Background(), Items(Item{0, "test"}), "")
	require.Error(t, err)
	assert.True(t, errors.IsUnexpectedValueError(err))
	assert.Equal(t, "The key returned by the iterator (integer) is not a string.", err.Error())
}

func TestBuildFromIteratorInvalidValue(t *testing.T) {
	c, _ := newCrate(t)

	tests := []struct {
		value any
		kind  string
	}{
		{os.Stdout, "resource"},
		{42, "integer"},
		{3.5, "double"},
		{true, "boolean"},
		{nil, "NULL"},
		{[]string{}, "array"},
	}
	for _, tt := range tests {
		err := c.BuildFromIterator(context.Background(), Items(Item{"stream", tt.value}), "")
		require.Error(t, err)
		assert.True(t, errors.IsUnexpectedValueError(err))
		assert.Equal(t, `The iterator value "`+tt.kind+`" was not expected.`, err.Error())
	}
}

func TestBuildFromIteratorStopsOnError(t *testing.T) {
	c, dir := newCrate(t)
	first := writeFile(t, filepath.Join(dir, "first.txt"), "1")
	third := writeFile(t, filepath.Join(dir, "third.txt"), "3")

	err := c.BuildFromIterator(context.Background(), Items(
		Item{"first.txt", first},
		Item{"second.txt", filepath.Join(dir, "missing.txt")},
		Item{"third.txt", third},
	), "")
	require.Error(t, err)
	assert.True(t, errors.IsFileError(err))

	// Entries added before the failure stay in the archive.
	assert.True(t, c.Archive().Has("first.txt"))
	assert.False(t, c.Archive().Has("third.txt"))
}

func TestBuildFromIteratorCanceled(t *testing.T) {
	c, dir := newCrate(t)
	file := writeFile(t, filepath.Join(dir, "a.txt"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.BuildFromIterator(ctx, Items(Item{"a.txt", file}), "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Archive().Len())
}

func TestFilter(t *testing.T) {
	walkErr := errors.New("walk failed")
	seq := Items(
		Item{"a.php", "a"},
		Item{"b.txt", "b"},
		Item{1, "c"},
		Item{"c.txt", walkErr},
		Item{"d.php", "d"},
	)

	var keys []any
	for key := range Filter(seq, func(path string) bool { return filepath.Ext(path) == ".php" }) {
		keys = append(keys, key)
	}
	assert.Equal(t, []any{"a.php", "c.txt", "d.php"}, keys)

	var first []any
	for key := range Filter(seq, func(string) bool { return true }) {
		first = append(first, key)
		break
	}
	assert.Equal(t, []any{"a.php"}, first)
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		match   bool
	}{
		{`/\.php$/`, "src/a.php", true},
		{`/\.php$/`, "src/a.PHP", false},
		{`/\.php$/i`, "src/a.PHP", true},
		{`#^src/#`, "src/a.php", true},
		{`{\.json$}`, "composer.json", true},
		{`\.txt$`, "notes.txt", true},
	}

	for _, tt := range tests {
		re, err := CompilePattern(tt.pattern)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.match, re.MatchString(tt.path), "%s ~ %s", tt.pattern, tt.path)
	}

	re, err := CompilePattern("")
	require.NoError(t, err)
	assert.Nil(t, re)

	_, err = CompilePattern(`/a/x`)
	require.Error(t, err)
	assert.True(t, errors.IsArgumentError(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "integer", kindOf(int64(1)))
	assert.Equal(t, "double", kindOf(float32(1)))
	assert.Equal(t, "string", kindOf("s"))
	assert.Equal(t, "object", kindOf(&struct{}{}))
	assert.Equal(t, "resource", kindOf(make(chan int)))
}
