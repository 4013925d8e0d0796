package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPagePreviewDimensions(t *testing.T) {
	img := renderPagePreview("GROUND FLOOR PLAN\nSCALE 1:100")
	require.NotNil(t, img)
	assert.Equal(t, previewWidth, img.Bounds().Dx())
	assert.Equal(t, previewHeight, img.Bounds().Dy())
}

func TestRenderPagePreviewEmptyText(t *testing.T) {
	img := renderPagePreview("")
	require.NotNil(t, img)
}

func TestWrapLines(t *testing.T) {
	lines := wrapLines("short", 10)
	assert.Equal(t, []string{"short"}, lines)

	lines = wrapLines("alpha beta gamma", 10)
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), 10)
	}
	assert.Equal(t, "alpha beta gamma", joinWords(lines))

	// a single token longer than the limit is hard-cut
	lines = wrapLines("abcdefghijkl", 5)
	assert.Equal(t, []string{"abcde", "fghij", "kl"}, lines)

	assert.Nil(t, wrapLines("anything", 0))
}

func joinWords(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += " "
		}
		out += line
	}
	return out
}
