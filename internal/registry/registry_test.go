package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/distforge/internal/recipe"
)

func writeRecipe(t *testing.T, dir, file, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(src), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "aaa", "name=aaa\nversion=1.0\n\nbuild() {\ntrue\n}\n\npackage() {\ntrue\n}\n")
	writeRecipe(t, dir, "bbb", "name=bbb\nversion=2.0\ndeps=\"aaa\"\n\nbuild() {\ntrue\n}\n\npackage() {\ntrue\n}\n")

	reg, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	a, ok := reg.Get("aaa")
	require.True(t, ok)
	assert.Equal(t, "1.0", a.Version)

	b, ok := reg.Get("bbb")
	require.True(t, ok)
	assert.Equal(t, []string{"aaa"}, b.Deps)

	// Lexical walk order gives a deterministic registry order.
	assert.Equal(t, []string{"aaa", "bbb"}, reg.Names())
}

func TestLoad_DuplicateName(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "one", "name=dup\nversion=1.0\n\nbuild() {\ntrue\n}\n\npackage() {\ntrue\n}\n")
	writeRecipe(t, dir, "two", "name=dup\nversion=2.0\n\nbuild() {\ntrue\n}\n\npackage() {\ntrue\n}\n")

	_, err := Load(context.Background(), dir)
	require.Error(t, err)

	var parseErr *recipe.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, parseErr.Error(), "duplicate recipe name")
}

func TestLoad_EmptyDir(t *testing.T) {
	_, err := Load(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipe files")
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "broken", "name=broken\nversion=1.0\n")

	_, err := Load(context.Background(), dir)
	require.Error(t, err)

	var parseErr *recipe.ParseError
	require.True(t, errors.As(err, &parseErr))
}

func TestLoad_SkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "good", "name=good\nversion=1.0\n\nbuild() {\ntrue\n}\n\npackage() {\ntrue\n}\n")
	writeRecipe(t, dir, ".swp", "not a recipe at all")

	reg, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}
