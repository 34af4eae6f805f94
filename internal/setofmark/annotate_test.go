package setofmark

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestClassifyBucketsByViewportPosition(t *testing.T) {
	rois := map[string]InteractiveRegion{
		"a": {TagName: "button", Rects: []DOMRect{{Left: 10, Top: 10, Right: 20, Bottom: 20}}},  // visible
		"b": {TagName: "button", Rects: []DOMRect{{Left: 10, Top: -50, Right: 20, Bottom: -40}}}, // above
		"c": {TagName: "button", Rects: []DOMRect{{Left: 10, Top: 500, Right: 20, Bottom: 510}}}, // below
	}
	visible, above, below := classify(rois, 100, 100)
	assert.Equal(t, []string{"a"}, visible)
	assert.Equal(t, []string{"b"}, above)
	assert.Equal(t, []string{"c"}, below)
}

func TestClassifySkipsZeroAreaRects(t *testing.T) {
	rois := map[string]InteractiveRegion{
		"a": {TagName: "button", Rects: []DOMRect{{Left: 10, Top: 10, Right: 10, Bottom: 20}}},
	}
	visible, above, below := classify(rois, 100, 100)
	assert.Empty(t, visible)
	assert.Empty(t, above)
	assert.Empty(t, below)
}

func TestClassifyIncludesOptionTagWithoutDrawing(t *testing.T) {
	rois := map[string]InteractiveRegion{
		"a": {TagName: "option"},
	}
	visible, _, _ := classify(rois, 100, 100)
	assert.Equal(t, []string{"a"}, visible)
}

func TestAnnotateMappingIsInjectiveAndCoversAllBuckets(t *testing.T) {
	shot := blankPNG(t, 200, 200)
	rois := map[string]InteractiveRegion{
		"a": {TagName: "button", Rects: []DOMRect{{Left: 10, Top: 10, Right: 20, Bottom: 20}}},
		"b": {TagName: "button", Rects: []DOMRect{{Left: 10, Top: -50, Right: 20, Bottom: -40}}},
		"c": {TagName: "button", Rects: []DOMRect{{Left: 10, Top: 500, Right: 20, Bottom: 510}}},
	}

	state, err := Annotate(shot, rois, true)
	require.NoError(t, err)

	seen := map[string]bool{}
	for newID := range state.ElementIDMapping {
		assert.False(t, seen[newID], "mapping must be injective")
		seen[newID] = true
	}

	all := append(append(append([]string{}, state.VisibleRects...), state.RectsAbove...), state.RectsBelow...)
	assert.Len(t, all, len(state.ElementIDMapping))
	for _, id := range all {
		_, ok := state.ElementIDMapping[id]
		assert.True(t, ok)
	}
	assert.NotEmpty(t, state.SomScreenshot)
}
