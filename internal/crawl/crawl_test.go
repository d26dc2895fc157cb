package crawl

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/device"
	"github.com/ruiyi-1/KPP-Test/internal/store"
)

// fakeApp scripts the device as a sequence of screens. A tap on the
// current screen's next point moves to the following screen; every other
// tap is recorded and ignored, like poking a static page.
type fakeApp struct {
	screens []screen
	idx     int
	served  []int
	taps    []image.Point
}

type screen struct {
	xml    string
	frames []image.Image // served per capture in order, last one repeats
	next   image.Point
}

var _ device.Bridge = (*fakeApp)(nil)

func newFakeApp(screens ...screen) *fakeApp {
	return &fakeApp{screens: screens, served: make([]int, len(screens))}
}

func (f *fakeApp) DumpHierarchy(ctx context.Context) ([]byte, error) {
	return []byte(f.screens[f.idx].xml), nil
}

func (f *fakeApp) CaptureFrame(ctx context.Context) ([]byte, error) {
	s := f.screens[f.idx]
	if len(s.frames) == 0 {
		return nil, errors.New("no frame scripted for this screen")
	}
	i := f.served[f.idx]
	if i >= len(s.frames) {
		i = len(s.frames) - 1
	}
	f.served[f.idx]++
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.frames[i]); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *fakeApp) Tap(ctx context.Context, x, y int) error {
	p := image.Point{X: x, Y: y}
	f.taps = append(f.taps, p)
	cur := f.screens[f.idx]
	if cur.next != (image.Point{}) && cur.next == p && f.idx < len(f.screens)-1 {
		f.idx++
	}
	return nil
}

const homeXML = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" content-desc="" text="" clickable="false" bounds="[0,0][1276,2848]">
    <node class="android.widget.TextView" content-desc="" text="KPP Test" clickable="false" bounds="[420,120][856,220]" />
    <node class="android.view.ViewGroup" content-desc="" text="Exercise" clickable="true" bounds="[100,800][1176,1000]" />
  </node>
</hierarchy>`

const partMenuXML = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" content-desc="" text="" clickable="false" bounds="[0,0][1276,2848]">
    <node class="android.view.ViewGroup" content-desc="" text="Part A" clickable="true" bounds="[50,1100][1226,1260]" />
    <node class="android.view.ViewGroup" content-desc="" text="Part B" clickable="true" bounds="[50,1300][1226,1460]" />
    <node class="android.view.ViewGroup" content-desc="" text="Part C" clickable="true" bounds="[50,1500][1226,1660]" />
  </node>
</hierarchy>`

const question1XML = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" content-desc="" text="" clickable="false" bounds="[0,0][1276,2848]">
    <node class="android.widget.TextView" content-desc="" text="1/2" clickable="false" bounds="[252,196][487,276]" />
    <node class="android.widget.TextView" content-desc="" text="When you see a pedestrian waiting at a zebra crossing you should" clickable="false" bounds="[88,520][1188,760]" />
    <node class="android.widget.ImageView" content-desc="" text="" clickable="false" bounds="[400,820][900,1220]" />
    <node class="android.view.ViewGroup" content-desc="A" text="" clickable="true" bounds="[50,1900][1226,2050]">
      <node class="android.widget.TextView" content-desc="" text="A. Slow down and stop" clickable="false" bounds="[140,1930][1100,2020]" />
    </node>
    <node class="android.view.ViewGroup" content-desc="B" text="" clickable="true" bounds="[50,2100][1226,2250]">
      <node class="android.widget.TextView" content-desc="" text="B. Sound the horn and keep going" clickable="false" bounds="[140,2130][1100,2220]" />
    </node>
    <node class="android.widget.Button" content-desc="" text="Next" clickable="true" bounds="[900,2600][1200,2720]" />
  </node>
</hierarchy>`

const question2XML = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" content-desc="" text="" clickable="false" bounds="[0,0][1276,2848]">
    <node class="android.widget.TextView" content-desc="" text="2/2" clickable="false" bounds="[252,196][487,276]" />
    <node class="android.widget.TextView" content-desc="" text="You are driving at night and an oncoming vehicle dazzles you with its lights" clickable="false" bounds="[88,520][1188,760]" />
    <node class="android.view.ViewGroup" content-desc="A" text="" clickable="true" bounds="[50,1900][1226,2050]">
      <node class="android.widget.TextView" content-desc="" text="A. Keep your own lights on high beam" clickable="false" bounds="[140,1930][1100,2020]" />
    </node>
    <node class="android.view.ViewGroup" content-desc="B" text="" clickable="true" bounds="[50,2100][1226,2250]">
      <node class="android.widget.TextView" content-desc="" text="B. Slow down and look to the left edge" clickable="false" bounds="[140,2130][1100,2220]" />
    </node>
    <node class="android.widget.Button" content-desc="" text="Next" clickable="true" bounds="[900,2600][1200,2720]" />
  </node>
</hierarchy>`

// brokenQuestionXML looks like a question page (it has a Next control)
// but carries no question text and only one option, so extraction fails.
const brokenQuestionXML = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" content-desc="" text="" clickable="false" bounds="[0,0][1276,2848]">
    <node class="android.view.ViewGroup" content-desc="A" text="" clickable="true" bounds="[50,1900][1226,2050]" />
    <node class="android.widget.Button" content-desc="" text="Next" clickable="true" bounds="[900,2600][1200,2720]" />
  </node>
</hierarchy>`

const adXML = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" content-desc="" text="" clickable="false" bounds="[0,0][1276,2848]">
    <node class="android.widget.TextView" content-desc="广告" text="" clickable="false" bounds="[50,100][300,200]" />
    <node class="android.widget.Button" content-desc="跳过" text="" clickable="true" bounds="[1100,80][1250,160]" />
  </node>
</hierarchy>`

var (
	optionARect = image.Rect(50, 1900, 1226, 2050)
	optionBRect = image.Rect(50, 2100, 1226, 2250)

	entryCenter = image.Point{X: 638, Y: 900}
	partACenter = image.Point{X: 638, Y: 1180}
	nextCenter  = image.Point{X: 1050, Y: 2660}
)

func whiteFrame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 1276, 2848))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

// greenAt returns a white frame with r painted in the revealed-answer
// green the detector is tuned for.
func greenAt(r image.Rectangle) *image.RGBA {
	img := whiteFrame()
	draw.Draw(img, r, image.NewUniform(color.RGBA{R: 46, G: 204, B: 113, A: 255}), image.Point{}, draw.Src)
	return img
}

func fastProfile() config.Profile {
	cfg := config.Default()
	cfg.Partitions = []string{"A"}
	cfg.Timing.TapSettle = time.Millisecond
	cfg.Timing.ClickSettle = time.Millisecond
	cfg.Timing.AdvanceSettle = time.Millisecond
	cfg.Timing.AdPoll = 2 * time.Millisecond
	cfg.Timing.AdTimeout = 40 * time.Millisecond
	return cfg
}

type stores struct {
	records    *store.Records
	images     *store.Images
	checkpoint *store.Checkpoint
}

func newStores(t *testing.T) stores {
	t.Helper()
	dir := t.TempDir()
	return stores{
		records:    store.NewRecords(filepath.Join(dir, "questions"), zerolog.Nop()),
		images:     store.NewImages(filepath.Join(dir, "images"), zerolog.Nop()),
		checkpoint: store.NewCheckpoint(filepath.Join(dir, "progress.json"), zerolog.Nop()),
	}
}

func newTestMachine(cfg config.Profile, app *fakeApp, st stores) *Machine {
	return New(cfg, app, st.records, st.images, st.checkpoint, zerolog.Nop())
}

// happyScreens is a complete two-question partition: home, section menu,
// a question with the answer already revealed, a question that needs a
// probe, and home again as the completion signal.
func happyScreens() []screen {
	return []screen{
		{xml: homeXML, next: entryCenter},
		{xml: partMenuXML, next: partACenter},
		{xml: question1XML, frames: []image.Image{greenAt(optionARect)}, next: nextCenter},
		{xml: question2XML, frames: []image.Image{whiteFrame(), greenAt(optionBRect)}, next: nextCenter},
		{xml: homeXML},
	}
}

func TestRunCapturesPartition(t *testing.T) {
	cfg := fastProfile()
	st := newStores(t)
	app := newFakeApp(happyScreens()...)
	m := newTestMachine(cfg, app, st)

	summary, err := m.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.TotalCaptured())
	assert.Equal(t, 2, summary.Captured["A"])
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failures)
	assert.False(t, summary.AdTimeout)
	assert.Equal(t, phaseDone, m.phase)

	rec1, err := st.records.Load("A", 1)
	require.NoError(t, err)
	assert.Equal(t, "part-a-question-001", rec1.ID)
	assert.Equal(t, "When you see a pedestrian waiting at a zebra crossing you should", rec1.Text)
	require.NotNil(t, rec1.CorrectAnswer)
	assert.Equal(t, "A", *rec1.CorrectAnswer)
	require.Len(t, rec1.Options, 2)
	assert.Equal(t, "Slow down and stop", rec1.Options[0].Text)
	assert.Equal(t, "Sound the horn and keep going", rec1.Options[1].Text)
	require.Len(t, rec1.Images, 1)
	assert.True(t, st.images.Exists(rec1.Images[0]))

	rec2, err := st.records.Load("A", 2)
	require.NoError(t, err)
	require.NotNil(t, rec2.CorrectAnswer)
	assert.Equal(t, "B", *rec2.CorrectAnswer)

	state := st.checkpoint.Load()
	assert.Equal(t, "A", state.CurrentPartition)
	assert.Equal(t, 2, state.Counter("A"))
	assert.Equal(t, 2, state.Total)
}

func TestRunSkipsExistingRecords(t *testing.T) {
	cfg := fastProfile()
	st := newStores(t)

	_, err := newTestMachine(cfg, newFakeApp(happyScreens()...), st).Run(context.Background(), Options{})
	require.NoError(t, err)

	// Same stores, fresh app: the second run must pass through the same
	// two questions without re-extracting them.
	summary, err := newTestMachine(cfg, newFakeApp(happyScreens()...), st).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalCaptured())
	assert.Equal(t, 2, summary.Skipped)

	state := st.checkpoint.Load()
	assert.Equal(t, 2, state.Total)
}

func TestRunStopsAtItemBudget(t *testing.T) {
	cfg := fastProfile()
	st := newStores(t)
	m := newTestMachine(cfg, newFakeApp(happyScreens()...), st)

	summary, err := m.Run(context.Background(), Options{MaxItems: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalCaptured())
	assert.True(t, st.records.Exists("A", 1))
	assert.False(t, st.records.Exists("A", 2))
	assert.Equal(t, 1, st.checkpoint.Load().Total)
}

func TestRunAdTimeout(t *testing.T) {
	cfg := fastProfile()
	st := newStores(t)
	app := newFakeApp(screen{xml: adXML})
	m := newTestMachine(cfg, app, st)

	summary, err := m.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdTimeout)
	assert.True(t, summary.AdTimeout)
	assert.Zero(t, summary.TotalCaptured())

	// The close control was poked at least once before giving up.
	assert.NotEmpty(t, app.taps)
	assert.Equal(t, image.Point{X: 1175, Y: 120}, app.taps[0])

	// Progress survived the abort.
	assert.Equal(t, "A", st.checkpoint.Load().CurrentPartition)
}

func TestRunForcedSwitchAfterRepeatedFailures(t *testing.T) {
	cfg := fastProfile()
	st := newStores(t)
	broken := screen{xml: brokenQuestionXML, frames: []image.Image{whiteFrame()}, next: nextCenter}
	app := newFakeApp(
		screen{xml: homeXML, next: entryCenter},
		screen{xml: partMenuXML, next: partACenter},
		broken,
	)
	m := newTestMachine(cfg, app, st)

	summary, err := m.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalCaptured())
	assert.Equal(t, cfg.Limits.ConsecutiveFailures, summary.Failures)
	assert.Zero(t, st.checkpoint.Load().Total)

	recs, err := st.records.List()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRunPersistsCheckpointOnCancel(t *testing.T) {
	cfg := fastProfile()
	st := newStores(t)
	app := newFakeApp(happyScreens()...)
	m := newTestMachine(cfg, app, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Run(ctx, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, app.taps)
	assert.Equal(t, "A", st.checkpoint.Load().CurrentPartition)
}

func TestRunRejectsUnknownPartition(t *testing.T) {
	cfg := fastProfile()
	st := newStores(t)
	m := newTestMachine(cfg, newFakeApp(screen{xml: homeXML}), st)

	_, err := m.Run(context.Background(), Options{StartPartition: "Z"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown partition "Z"`)
}

func TestStartIndexResolution(t *testing.T) {
	cfg := config.Default()
	cfg.Partitions = []string{"A", "B", "C"}
	m := &Machine{cfg: cfg}

	idx, _ := m.startIndex(Options{})
	assert.Equal(t, 0, idx)

	m.state.CurrentPartition = "b"
	idx, want := m.startIndex(Options{})
	assert.Equal(t, 1, idx)
	assert.Equal(t, "b", want)

	idx, _ = m.startIndex(Options{StartPartition: "C"})
	assert.Equal(t, 2, idx)

	idx, want = m.startIndex(Options{StartPartition: "zz"})
	assert.Equal(t, -1, idx)
	assert.Equal(t, "zz", want)
}
