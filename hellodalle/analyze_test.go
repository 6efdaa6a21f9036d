package hellodalle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAnalyzer is an AvatarAnalyzer returning a fixed description
// and tracking how often it runs.
type countingAnalyzer struct {
	description string
	calls       int
}

func (c *countingAnalyzer) Analyze(_ context.Context, _ string) string {
	c.calls++
	return c.description
}

func writeTestImage(t testing.TB, dir string, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestCachingAnalyzerAnalyzesIdenticalBytesOnce(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	inner := &countingAnalyzer{description: "an orange cat wearing headphones"}
	analyzer := newCachingAnalyzer(inner, db, "gemini", nil)

	tmpdir := t.TempDir()
	content := []byte("identical avatar bytes")

	first := writeTestImage(t, tmpdir, "user-a.png", content)
	second := writeTestImage(t, tmpdir, "user-b.png", content)

	ctx := context.Background()

	assert.Equal(t, "an orange cat wearing headphones", analyzer.Analyze(ctx, first))
	assert.Equal(t, 1, inner.calls)

	// Same bytes under a different filename hit the cache
	assert.Equal(t, "an orange cat wearing headphones", analyzer.Analyze(ctx, second))
	assert.Equal(t, 1, inner.calls)

	// Different bytes miss
	third := writeTestImage(t, tmpdir, "user-c.png", []byte("different avatar bytes"))
	assert.Equal(t, "an orange cat wearing headphones", analyzer.Analyze(ctx, third))
	assert.Equal(t, 2, inner.calls)
}

func TestCachingAnalyzerDoesNotCacheFallback(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	inner := &countingAnalyzer{description: FallbackDescription}
	analyzer := newCachingAnalyzer(inner, db, "gemini", nil)

	path := writeTestImage(
		t,
		t.TempDir(),
		"avatar.png",
		[]byte("avatar the analyzer can't describe"),
	)
	ctx := context.Background()

	assert.Equal(t, FallbackDescription, analyzer.Analyze(ctx, path))
	assert.Equal(t, FallbackDescription, analyzer.Analyze(ctx, path))

	// The degraded answer was never pinned, so the analyzer ran twice
	assert.Equal(t, 2, inner.calls)
}

func TestCachingAnalyzerUnreadablePath(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	inner := &countingAnalyzer{description: "a description"}
	analyzer := newCachingAnalyzer(inner, db, "gemini", nil)

	// Unreadable input skips the cache and defers to the inner analyzer
	result := analyzer.Analyze(
		context.Background(),
		filepath.Join(t.TempDir(), "missing.png"),
	)
	assert.Equal(t, "a description", result)
	assert.Equal(t, 1, inner.calls)
}

func TestMimeTypeForFile(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image/png", mimeTypeForFile("avatar.png"))
	assert.Equal(t, "image/jpeg", mimeTypeForFile("avatar.JPG"))
	assert.Equal(t, "image/jpeg", mimeTypeForFile("avatar.jpeg"))
	assert.Equal(t, "image/gif", mimeTypeForFile("avatar.gif"))
	assert.Equal(t, "image/webp", mimeTypeForFile("avatar.webp"))
	assert.Equal(t, "image/png", mimeTypeForFile("avatar"))
}
