package extract

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/locate"
	"github.com/ruiyi-1/KPP-Test/internal/snapshot"
)

func newExtractor() *Extractor {
	cfg := config.Default()
	return New(cfg, locate.New(cfg, zerolog.Nop()), zerolog.Nop())
}

func rect(x1, y1, x2, y2 int) snapshot.Rect {
	return snapshot.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 1276, 2848))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

// questionPage is a typical exercise page: header counter, wide question
// text, one sign image, two glyph-marked options with one option image.
func questionPage() *snapshot.Snapshot {
	return &snapshot.Snapshot{Elements: []snapshot.Element{
		{Index: 0, Parent: -1, RoleHint: "android.widget.FrameLayout", Bounds: rect(0, 0, 1276, 2848)},
		{Index: 1, Parent: 0, RoleHint: "android.view.View", Label: "5/250", Bounds: rect(252, 196, 487, 276)},
		{Index: 2, Parent: 0, RoleHint: "android.view.View", Label: "What does this traffic sign mean when approaching a junction?", Bounds: rect(88, 400, 1188, 700)},
		{Index: 3, Parent: 0, RoleHint: "android.widget.ImageView", Bounds: rect(400, 750, 876, 1150)},
		{Index: 4, Parent: 0, RoleHint: "android.view.ViewGroup", Label: "A", Clickable: true, Bounds: rect(50, 1900, 1226, 2050)},
		{Index: 5, Parent: 4, RoleHint: "android.widget.TextView", Text: "A. Slow down and give way", Bounds: rect(320, 1930, 1100, 2020)},
		{Index: 6, Parent: 0, RoleHint: "android.view.ViewGroup", Label: "B. Stop completely", Clickable: true, Bounds: rect(50, 2100, 1226, 2250)},
		{Index: 7, Parent: 4, RoleHint: "android.widget.ImageView", Bounds: rect(100, 1910, 300, 2040)},
	}}
}

func TestPageOrdinal(t *testing.T) {
	e := newExtractor()
	cur, total, ok := e.PageOrdinal(questionPage())
	require.True(t, ok)
	assert.Equal(t, 5, cur)
	assert.Equal(t, 250, total)

	// Counters below the header band do not count.
	low := &snapshot.Snapshot{Elements: []snapshot.Element{
		{Index: 0, Parent: -1, Label: "5/250", Bounds: rect(252, 900, 487, 980)},
	}}
	_, _, ok = e.PageOrdinal(low)
	assert.False(t, ok)
}

func TestExtractFullPage(t *testing.T) {
	e := newExtractor()
	record, assets, err := e.Extract(questionPage(), testFrame(), "A", 5)
	require.NoError(t, err)

	assert.Equal(t, "part-a-question-005", record.ID)
	assert.Equal(t, "A", record.Partition)
	assert.Equal(t, 5, record.Ordinal)
	assert.Equal(t, "What does this traffic sign mean when approaching a junction?", record.Text)

	require.Len(t, record.Options, 2)
	assert.Equal(t, "A", record.Options[0].Label)
	assert.Equal(t, "Slow down and give way", record.Options[0].Text)
	assert.Equal(t, "B", record.Options[1].Label)
	assert.Equal(t, "Stop completely", record.Options[1].Text)

	// The sign above the options is question imagery, the one overlapping
	// option A is option imagery assigned positionally.
	require.Len(t, record.Images, 1)
	assert.Equal(t, "images/options/part-a-question-005-q-image-01.png", record.Images[0])
	assert.True(t, record.HasImages)
	assert.True(t, record.HasImageOptions)
	assert.True(t, record.Options[0].HasImage)
	assert.Equal(t, "images/options/part-a-question-005-opt-image-01.png", record.Options[0].Image)
	assert.False(t, record.Options[1].HasImage)

	require.Len(t, assets, 2)
	assert.Equal(t, "part-a-question-005-q-image-01.png", assets[0].Name)
	assert.Equal(t, 476, assets[0].Image.Bounds().Dx())
	assert.Equal(t, 400, assets[0].Image.Bounds().Dy())
	assert.Equal(t, "part-a-question-005-opt-image-01.png", assets[1].Name)
	assert.Equal(t, 200, assets[1].Image.Bounds().Dx())
	assert.Equal(t, 130, assets[1].Image.Bounds().Dy())

	require.NoError(t, record.Validate())
}

func TestExtractFallbackBand(t *testing.T) {
	e := newExtractor()
	// Question text too high and too narrow for the strict band, still
	// caught by the fallback pass.
	s := &snapshot.Snapshot{Elements: []snapshot.Element{
		{Index: 0, Parent: -1, Bounds: rect(0, 0, 1276, 2848)},
		{Index: 1, Parent: 0, Label: "Give way to traffic on the right", Bounds: rect(200, 250, 900, 350)},
		{Index: 2, Parent: 0, Label: "A", Clickable: true, Bounds: rect(50, 1900, 1226, 2050)},
		{Index: 3, Parent: 0, Label: "B", Clickable: true, Bounds: rect(50, 2100, 1226, 2250)},
	}}
	record, _, err := e.Extract(s, testFrame(), "B", 12)
	require.NoError(t, err)
	assert.Equal(t, "Give way to traffic on the right", record.Text)
	assert.Equal(t, "part-b-question-012", record.ID)
}

func TestExtractOptionTextFromParentSubtree(t *testing.T) {
	e := newExtractor()
	s := &snapshot.Snapshot{Elements: []snapshot.Element{
		{Index: 0, Parent: -1, Bounds: rect(0, 0, 1276, 2848)},
		{Index: 1, Parent: 0, Bounds: rect(40, 1880, 1236, 2060)},
		{Index: 2, Parent: 1, Label: "C", Clickable: true, Bounds: rect(50, 1900, 1226, 2050)},
		{Index: 3, Parent: 1, Text: "Proceed with caution", Bounds: rect(320, 1930, 1100, 2020)},
	}}
	got := e.optionText(s, locate.Labeled{Label: "C", Element: s.Elements[2]})
	assert.Equal(t, "Proceed with caution", got)
}

func TestExtractFailures(t *testing.T) {
	e := newExtractor()

	// No body text anywhere.
	noText := &snapshot.Snapshot{Elements: []snapshot.Element{
		{Index: 0, Parent: -1, Bounds: rect(0, 0, 1276, 2848)},
		{Index: 1, Parent: 0, Label: "A", Clickable: true, Bounds: rect(50, 1900, 1226, 2050)},
		{Index: 2, Parent: 0, Label: "B", Clickable: true, Bounds: rect(50, 2100, 1226, 2250)},
	}}
	_, _, err := e.Extract(noText, testFrame(), "A", 1)
	require.ErrorIs(t, err, ErrExtraction)

	// A single option is not a question.
	oneOption := &snapshot.Snapshot{Elements: []snapshot.Element{
		{Index: 0, Parent: -1, Bounds: rect(0, 0, 1276, 2848)},
		{Index: 1, Parent: 0, Label: "What does this traffic sign mean when approaching a junction?", Bounds: rect(88, 400, 1188, 700)},
		{Index: 2, Parent: 0, Label: "A", Clickable: true, Bounds: rect(50, 1900, 1226, 2050)},
	}}
	_, _, err = e.Extract(oneOption, testFrame(), "A", 1)
	require.ErrorIs(t, err, ErrExtraction)
}

func TestCropFrameClamps(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))

	crop, ok := cropFrame(frame, rect(-20, -20, 30, 30))
	require.True(t, ok)
	assert.Equal(t, 30, crop.Bounds().Dx())
	assert.Equal(t, 30, crop.Bounds().Dy())

	crop, ok = cropFrame(frame, rect(90, 90, 200, 200))
	require.True(t, ok)
	assert.Equal(t, 10, crop.Bounds().Dx())
	assert.Equal(t, 10, crop.Bounds().Dy())
}
