// Package annotate renders a snapshot's element geometry onto its frame
// capture. It exists for debugging locator misfires: when a tap lands on
// the wrong control, the annotated frame shows which boxes the dump
// actually contained and what was clickable.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/snapshot"
	"github.com/ruiyi-1/KPP-Test/internal/store"
)

var (
	clickableColor = color.RGBA{R: 46, G: 204, B: 113, A: 255}
	inertColor     = color.RGBA{R: 231, G: 76, B: 60, A: 255}
	backingColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	boxWidth   = 5
	glyphScale = 4
	markerHalf = 6
)

// File draws the elements of the dump at dumpPath onto the frame at
// framePath and writes the result as "<frame>-annotated.png" next to the
// frame. Returns the output path.
func File(dumpPath, framePath string, logger zerolog.Logger) (string, error) {
	raw, err := os.ReadFile(dumpPath)
	if err != nil {
		return "", fmt.Errorf("read dump: %w", err)
	}
	snap, err := snapshot.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse dump: %w", err)
	}
	f, err := os.Open(framePath)
	if err != nil {
		return "", fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	frame, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode frame %s: %w", framePath, err)
	}

	annotated := Draw(frame, snap.Elements)
	var buf bytes.Buffer
	if err := png.Encode(&buf, annotated); err != nil {
		return "", fmt.Errorf("encode annotated frame: %w", err)
	}
	outPath := annotatedName(framePath)
	if err := store.WriteBytes(outPath, buf.Bytes()); err != nil {
		return "", err
	}
	logger.Info().
		Str("frame", framePath).
		Str("out", outPath).
		Int("elements", len(snap.Elements)).
		Msg("frame annotated")
	return outPath, nil
}

func annotatedName(framePath string) string {
	ext := filepath.Ext(framePath)
	return strings.TrimSuffix(framePath, ext) + "-annotated.png"
}

// Draw paints every bounded element onto a copy of frame: green boxes
// with a center marker for clickable elements, red for inert ones, each
// tagged with its dump index.
func Draw(frame image.Image, elements []snapshot.Element) *image.RGBA {
	out := image.NewRGBA(frame.Bounds())
	draw.Draw(out, out.Bounds(), frame, frame.Bounds().Min, draw.Src)
	for _, el := range elements {
		if !el.HasBounds() {
			continue
		}
		c := inertColor
		if el.Clickable {
			c = clickableColor
		}
		box(out, el.Bounds, c)
		if el.Clickable {
			cx, cy := el.Bounds.Center()
			fillRect(out, cx-markerHalf, cy-markerHalf, cx+markerHalf, cy+markerHalf, c)
		}
		drawIndex(out, el.Bounds.X1+boxWidth+2, el.Bounds.Y1+boxWidth+2, el.Index, c)
	}
	return out
}

func box(img *image.RGBA, r snapshot.Rect, c color.RGBA) {
	for t := 0; t < boxWidth; t++ {
		hline(img, r.X1, r.X2, r.Y1+t, c)
		hline(img, r.X1, r.X2, r.Y2-1-t, c)
		vline(img, r.X1+t, r.Y1, r.Y2, c)
		vline(img, r.X2-1-t, r.Y1, r.Y2, c)
	}
}

func hline(img *image.RGBA, x1, x2, y int, c color.RGBA) {
	for x := x1; x < x2; x++ {
		img.SetRGBA(x, y, c)
	}
}

func vline(img *image.RGBA, x, y1, y2 int, c color.RGBA) {
	for y := y1; y < y2; y++ {
		img.SetRGBA(x, y, c)
	}
}

func fillRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// digitFont is a 3x5 bitmap per digit, row bits left to right. Enough to
// stamp indexes without pulling a font stack into a debug tool.
var digitFont = [10][5]uint8{
	{0b111, 0b101, 0b101, 0b101, 0b111}, // 0
	{0b010, 0b110, 0b010, 0b010, 0b111}, // 1
	{0b111, 0b001, 0b111, 0b100, 0b111}, // 2
	{0b111, 0b001, 0b111, 0b001, 0b111}, // 3
	{0b101, 0b101, 0b111, 0b001, 0b001}, // 4
	{0b111, 0b100, 0b111, 0b001, 0b111}, // 5
	{0b111, 0b100, 0b111, 0b101, 0b111}, // 6
	{0b111, 0b001, 0b001, 0b010, 0b010}, // 7
	{0b111, 0b101, 0b111, 0b101, 0b111}, // 8
	{0b111, 0b101, 0b111, 0b001, 0b111}, // 9
}

func drawIndex(img *image.RGBA, x, y, n int, c color.RGBA) {
	s := strconv.Itoa(n)
	width := len(s) * 4 * glyphScale
	fillRect(img, x-2, y-2, x+width, y+5*glyphScale+2, backingColor)
	for i, ch := range s {
		drawDigit(img, x+i*4*glyphScale, y, int(ch-'0'), c)
	}
}

func drawDigit(img *image.RGBA, x, y, d int, c color.RGBA) {
	if d < 0 || d > 9 {
		return
	}
	for row := 0; row < 5; row++ {
		bits := digitFont[d][row]
		for col := 0; col < 3; col++ {
			if bits&(1<<(2-col)) == 0 {
				continue
			}
			fillRect(img, x+col*glyphScale, y+row*glyphScale, x+(col+1)*glyphScale, y+(row+1)*glyphScale, c)
		}
	}
}
