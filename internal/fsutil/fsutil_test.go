package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestFindFilesByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.hcl", "")
	writeFile(t, root, "nested/b.hcl", "")
	writeFile(t, root, "nested/c.yml", "")
	writeFile(t, root, ".cdflow/artifacts/run/src/d.hcl", "")

	files, err := FindFilesByExtension(root, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.hcl"), filepath.Join(root, "nested", "b.hcl")}, files)

	_, err = FindFilesByExtension(root, "")
	assert.ErrorContains(t, err, "extension must not be empty")
}

func TestCopyTree(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, src, "bin/release", "go build")
	writeFile(t, src, "main.go", "package main")

	n, err := CopyTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len("go build")+len("package main")), n)

	got, err := os.ReadFile(filepath.Join(dst, "bin", "release"))
	require.NoError(t, err)
	assert.Equal(t, "go build", string(got))
}

func TestMatchGlob(t *testing.T) {
	testCases := []struct {
		pattern, name string
		want          bool
	}{
		{"main", "main", true},
		{"main", "bin/main", false},
		{"*.json", "LambdaStack.template.json", true},
		{"**/*", "a/b/c.txt", true},
		{"**/*.json", "cdk.out/PipelineStack.template.json", true},
		{"**/*.json", "top.json", true},
		{"cdk.out/**", "cdk.out/x/y", true},
		{"cdk.out/**", "other/x", false},
	}
	for _, tc := range testCases {
		t.Run(tc.pattern+"|"+tc.name, func(t *testing.T) {
			got, err := MatchGlob(tc.pattern, tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := MatchGlob("bin/[main", "bin/main")
	assert.ErrorIs(t, err, doublestar.ErrBadPattern)
}

func TestCollect(t *testing.T) {
	root, dst := t.TempDir(), t.TempDir()
	writeFile(t, root, "main", "binary")
	writeFile(t, root, "notes.txt", "skip")
	writeFile(t, root, "cdk.out/LambdaStack.template.json", "{}")

	copied, err := Collect(root, []string{"main", "**/*.json"}, dst)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "cdk.out/LambdaStack.template.json"}, copied)
	assert.NoFileExists(t, filepath.Join(dst, "notes.txt"))

	copied, err = Collect(root, []string{"main", "build/[bad"}, t.TempDir())
	assert.ErrorIs(t, err, doublestar.ErrBadPattern)
	assert.ErrorContains(t, err, `"build/[bad"`)
	assert.Empty(t, copied)
}
