// Package config holds the crawl profile: screen geometry, heuristic bands
// and thresholds, keyword sets, timing, and store paths. All values the
// heuristics were tuned with are configuration, not literals, loaded from an
// optional YAML file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the top-level crawl configuration.
type Profile struct {
	Device   Device   `yaml:"device"`
	Screen   Screen   `yaml:"screen"`
	Bands    Bands    `yaml:"bands"`
	Timing   Timing   `yaml:"timing"`
	Colors   Colors   `yaml:"colors"`
	Keywords Keywords `yaml:"keywords"`
	Limits   Limits   `yaml:"limits"`
	Paths    Paths    `yaml:"paths"`
	Web      Web      `yaml:"web"`

	// Partitions is the crawl order of the question bank sections.
	Partitions []string `yaml:"partitions"`
}

// Device selects the adb endpoint.
type Device struct {
	Serial  string `yaml:"serial"`
	ADBPath string `yaml:"adb_path"`
}

// Screen is the device resolution the bands were tuned against.
type Screen struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Bands are the vertical regions and size floors the heuristics filter by.
type Bands struct {
	CounterMaxY           int     `yaml:"counter_max_y"` // question number lives above this
	BodyTopY              int     `yaml:"body_top_y"`    // question text band
	BodyBottomY           int     `yaml:"body_bottom_y"`
	BodyFallbackTopY      int     `yaml:"body_fallback_top_y"` // looser retry band
	BodyFallbackBottomY   int     `yaml:"body_fallback_bottom_y"`
	OptionsTopY           int     `yaml:"options_top_y"`
	OptionsBottomY        int     `yaml:"options_bottom_y"`
	LooseOptionMinY       int     `yaml:"loose_option_min_y"` // permissive scan floor
	GlyphTopY             int     `yaml:"glyph_top_y"` // band for bare A-D glyph elements
	GlyphBottomY          int     `yaml:"glyph_bottom_y"`
	PartEntryMinY         int     `yaml:"part_entry_min_y"` // safety floor for section controls
	LanguageRowTopY       int     `yaml:"language_row_top_y"`
	LanguageRowBottomY    int     `yaml:"language_row_bottom_y"`
	AdCloseMaxY           int     `yaml:"ad_close_max_y"` // ad chrome sits above this
	ImageSplitY           int     `yaml:"image_split_y"`  // body vs option imagery divider
	BodyMinWidth          int     `yaml:"body_min_width"`
	BodyFallbackMinWidth  int     `yaml:"body_fallback_min_width"`
	BodyMinLength         int     `yaml:"body_min_length"` // characters
	BodyFallbackMinLength int     `yaml:"body_fallback_min_length"`
	OptionMinWidthFrac    float64 `yaml:"option_min_width_frac"` // of screen width
	MinImageSide          int     `yaml:"min_image_side"`        // px, both dimensions
	NextXFrac             float64 `yaml:"next_x_frac"`           // positional fallback quadrant
	NextYFrac             float64 `yaml:"next_y_frac"`
}

// Timing holds the settle delays and the ad budget.
type Timing struct {
	TapSettle     time.Duration `yaml:"tap_settle"`
	ClickSettle   time.Duration `yaml:"click_settle"`
	AdvanceSettle time.Duration `yaml:"advance_settle"`
	AdTimeout     time.Duration `yaml:"ad_timeout"`
	AdPoll        time.Duration `yaml:"ad_poll"`
	BridgeCall    time.Duration `yaml:"bridge_call"`
}

// UnmarshalYAML accepts Go duration strings such as "500ms" or "20s";
// yaml.v3 has no native duration decoding. Absent keys keep whatever value
// the receiver already holds.
func (t *Timing) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		TapSettle     string `yaml:"tap_settle"`
		ClickSettle   string `yaml:"click_settle"`
		AdvanceSettle string `yaml:"advance_settle"`
		AdTimeout     string `yaml:"ad_timeout"`
		AdPoll        string `yaml:"ad_poll"`
		BridgeCall    string `yaml:"bridge_call"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return applyDurations("timing", []durationField{
		{"tap_settle", raw.TapSettle, &t.TapSettle},
		{"click_settle", raw.ClickSettle, &t.ClickSettle},
		{"advance_settle", raw.AdvanceSettle, &t.AdvanceSettle},
		{"ad_timeout", raw.AdTimeout, &t.AdTimeout},
		{"ad_poll", raw.AdPoll, &t.AdPoll},
		{"bridge_call", raw.BridgeCall, &t.BridgeCall},
	})
}

type durationField struct {
	name string
	src  string
	dst  *time.Duration
}

func applyDurations(section string, fields []durationField) error {
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("%s %s: %w", section, f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// Colors holds the affirmative-feedback thresholds. Tuned against one
// renderer; do not assume they generalize.
type Colors struct {
	ChannelMargin int `yaml:"channel_margin"` // g must beat r and b by this
	GreenFloor    int `yaml:"green_floor"`    // minimum g for the margin rule
	GreenHigh     int `yaml:"green_high"`     // g above this needs only dominance
	PatchSize     int `yaml:"patch_size"`     // sampled square, px
}

// Keywords are the multilingual matching sets. Matching is always
// case-insensitive containment unless a component says otherwise.
type Keywords struct {
	Next       []string `yaml:"next"`
	NextFuzzy  []string `yaml:"next_fuzzy"` // includes symbolic arrows
	Previous   []string `yaml:"previous"`
	Home       []string `yaml:"home"`
	Languages  []string `yaml:"languages"`
	EntryPoint []string `yaml:"entry_point"` // expands the section list from Home

	PartNames      map[string][]string `yaml:"part_names"`
	PartExclusions []string            `yaml:"part_exclusions"`

	OptionExclusions []string `yaml:"option_exclusions"`
	Completion       []string `yaml:"completion"`
	Back             []string `yaml:"back"`
	AdMarkers        []string `yaml:"ad_markers"`
	AdClose          []string `yaml:"ad_close"`
}

// Limits holds the retry and reporting budgets.
type Limits struct {
	BridgeRetries       int `yaml:"bridge_retries"`
	ConsecutiveFailures int `yaml:"consecutive_failures"`
	AncestorDepth       int `yaml:"ancestor_depth"`
	MaxOptions          int `yaml:"max_options"`
	ImageReuseThreshold int `yaml:"image_reuse_threshold"`
}

// Paths locates the durable stores.
type Paths struct {
	DataDir          string `yaml:"data_dir"`
	QuestionsDir     string `yaml:"questions_dir"`
	ImagesDir        string `yaml:"images_dir"`
	CheckpointFile   string `yaml:"checkpoint_file"`
	TranslationsFile string `yaml:"translations_file"`
	DatasetFile      string `yaml:"dataset_file"`
	ReportFile       string `yaml:"report_file"`
	WebProgressFile  string `yaml:"web_progress_file"`
	WebOutputDir     string `yaml:"web_output_dir"`
}

// Web configures the website surface.
type Web struct {
	BaseURL     string        `yaml:"base_url"`
	Politeness  time.Duration `yaml:"politeness"`
	Retries     int           `yaml:"retries"`
	Timeout     time.Duration `yaml:"timeout"`
	ProbeSettle time.Duration `yaml:"probe_settle"` // wait after clicking an option
	Sections    []WebSection  `yaml:"sections"`
	AdMarkers   []string      `yaml:"ad_markers"` // id/class fragments to drop
	Headless    bool          `yaml:"headless"`
}

// UnmarshalYAML gives the web durations the same string treatment as
// Timing. The custom decode replaces the generated one, so every field is
// carried here.
func (w *Web) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL     string       `yaml:"base_url"`
		Politeness  string       `yaml:"politeness"`
		Retries     *int         `yaml:"retries"`
		Timeout     string       `yaml:"timeout"`
		ProbeSettle string       `yaml:"probe_settle"`
		Sections    []WebSection `yaml:"sections"`
		AdMarkers   []string     `yaml:"ad_markers"`
		Headless    *bool        `yaml:"headless"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.BaseURL != "" {
		w.BaseURL = raw.BaseURL
	}
	if raw.Retries != nil {
		w.Retries = *raw.Retries
	}
	if raw.Sections != nil {
		w.Sections = raw.Sections
	}
	if raw.AdMarkers != nil {
		w.AdMarkers = raw.AdMarkers
	}
	if raw.Headless != nil {
		w.Headless = *raw.Headless
	}
	return applyDurations("web", []durationField{
		{"politeness", raw.Politeness, &w.Politeness},
		{"timeout", raw.Timeout, &w.Timeout},
		{"probe_settle", raw.ProbeSettle, &w.ProbeSettle},
	})
}

// WebSection is one site section with its known set slugs.
type WebSection struct {
	Name string   `yaml:"name"`
	Sets []string `yaml:"sets"`
}

// Default returns the profile tuned against the source surface.
func Default() Profile {
	return Profile{
		Device: Device{ADBPath: "adb"},
		Screen: Screen{Width: 1276, Height: 2848},
		Bands: Bands{
			CounterMaxY:           300,
			BodyTopY:              300,
			BodyBottomY:           1500,
			BodyFallbackTopY:      200,
			BodyFallbackBottomY:   1800,
			OptionsTopY:           800,
			OptionsBottomY:        2500,
			LooseOptionMinY:       200,
			GlyphTopY:             1800,
			GlyphBottomY:          2500,
			PartEntryMinY:         1000,
			LanguageRowTopY:       1300,
			LanguageRowBottomY:    1700,
			AdCloseMaxY:           500,
			ImageSplitY:           1500,
			BodyMinWidth:          800,
			BodyFallbackMinWidth:  600,
			BodyMinLength:         50,
			BodyFallbackMinLength: 30,
			OptionMinWidthFrac:    0.5,
			MinImageSide:          50,
			NextXFrac:             0.5,
			NextYFrac:             0.7,
		},
		Timing: Timing{
			TapSettle:     500 * time.Millisecond,
			ClickSettle:   2 * time.Second,
			AdvanceSettle: 3 * time.Second,
			AdTimeout:     10 * time.Second,
			AdPoll:        time.Second,
			BridgeCall:    5 * time.Second,
		},
		Colors: Colors{
			ChannelMargin: 20,
			GreenFloor:    80,
			GreenHigh:     150,
			PatchSize:     20,
		},
		Keywords: Keywords{
			Next:       []string{"next", "下一"},
			NextFuzzy:  []string{"Next", "next", "下一页", "NEXT", ">", "→"},
			Previous:   []string{"previous", "上一"},
			Home:       []string{"Exercise", "Theory Test", "KPP Test", "KEJARA System", "Colour Blind Test"},
			Languages:  []string{"Bahasa Melayu", "English", "中文"},
			EntryPoint: []string{"Exercise", "练习"},
			PartNames: map[string][]string{
				"A": {"part a", "a 部分", "parta", "a部分"},
				"B": {"part b", "b 部分", "partb", "b部分"},
				"C": {"part c", "c 部分", "partc", "c部分"},
			},
			PartExclusions: []string{
				"exercise", "theory", "colour", "blind", "kejara",
				"tukar", "bahasa", "change", "language", "中文", "english",
			},
			OptionExclusions: []string{
				"next", "previous", "上一", "下一", "back", "返回",
				"tukar", "bahasa", "change", "language", "切换", "语言",
				"exercise", "part", "theory", "colour", "blind", "kejara",
			},
			Completion: []string{"完成", "Finish", "finish", "Done", "done", "Selesai", "selesai"},
			Back:       []string{"返回", "Back", "back", "Kembali", "kembali"},
			AdMarkers:  []string{"关闭", "跳过", "Skip", "Close", "X", "×", "广告", "Ad"},
			AdClose:    []string{"关闭", "跳过", "Skip", "Close", "X", "×"},
		},
		Limits: Limits{
			BridgeRetries:       3,
			ConsecutiveFailures: 3,
			AncestorDepth:       5,
			MaxOptions:          4,
			ImageReuseThreshold: 10,
		},
		Paths: Paths{
			DataDir:          "data",
			QuestionsDir:     "data/questions",
			ImagesDir:        "images/options",
			CheckpointFile:   "data/progress.json",
			TranslationsFile: "data/translations/zh.json",
			DatasetFile:      "data/questions.json",
			ReportFile:       "verification_report.txt",
			WebProgressFile:  "data/web_progress.json",
			WebOutputDir:     "data/web",
		},
		Web: Web{
			BaseURL:     "https://kpptestmy.com",
			Politeness:  time.Second,
			Retries:     3,
			Timeout:     30 * time.Second,
			ProbeSettle: 1500 * time.Millisecond,
			Headless:    true,
			Sections: []WebSection{
				{Name: "a", Sets: []string{"set-1", "set-2", "set-3", "set-4", "set-5", "set-6", "road-signs"}},
				{Name: "b", Sets: []string{"set-1", "set-2", "set-3", "set-4", "set-5", "set-6", "set-7", "set-8", "set-9", "set-10"}},
				{Name: "c", Sets: []string{"set-1", "set-2", "set-3", "set-4", "kejara-system"}},
			},
			AdMarkers: []string{
				"privacy_icon", "close_button", "survey_page", "cto_banner",
				"bnr", "beacon_", "criteo", "duplo", "adchoices",
			},
		},
		Partitions: []string{"A", "B", "C"},
	}
}

// Load reads a YAML profile over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Profile, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// applyDefaults refills fields an explicit profile left at zero.
func (p *Profile) applyDefaults() {
	def := Default()
	if p.Device.ADBPath == "" {
		p.Device.ADBPath = def.Device.ADBPath
	}
	if p.Screen.Width <= 0 {
		p.Screen.Width = def.Screen.Width
	}
	if p.Screen.Height <= 0 {
		p.Screen.Height = def.Screen.Height
	}
	if p.Timing.TapSettle <= 0 {
		p.Timing.TapSettle = def.Timing.TapSettle
	}
	if p.Timing.ClickSettle <= 0 {
		p.Timing.ClickSettle = def.Timing.ClickSettle
	}
	if p.Timing.AdvanceSettle <= 0 {
		p.Timing.AdvanceSettle = def.Timing.AdvanceSettle
	}
	if p.Timing.AdTimeout <= 0 {
		p.Timing.AdTimeout = def.Timing.AdTimeout
	}
	if p.Timing.AdPoll <= 0 {
		p.Timing.AdPoll = def.Timing.AdPoll
	}
	if p.Timing.BridgeCall <= 0 {
		p.Timing.BridgeCall = def.Timing.BridgeCall
	}
	if p.Limits.BridgeRetries <= 0 {
		p.Limits.BridgeRetries = def.Limits.BridgeRetries
	}
	if p.Limits.ConsecutiveFailures <= 0 {
		p.Limits.ConsecutiveFailures = def.Limits.ConsecutiveFailures
	}
	if p.Limits.AncestorDepth <= 0 {
		p.Limits.AncestorDepth = def.Limits.AncestorDepth
	}
	if p.Limits.MaxOptions <= 0 {
		p.Limits.MaxOptions = def.Limits.MaxOptions
	}
	if p.Limits.ImageReuseThreshold <= 0 {
		p.Limits.ImageReuseThreshold = def.Limits.ImageReuseThreshold
	}
	if p.Web.Retries <= 0 {
		p.Web.Retries = def.Web.Retries
	}
	if p.Web.Politeness <= 0 {
		p.Web.Politeness = def.Web.Politeness
	}
	if p.Web.Timeout <= 0 {
		p.Web.Timeout = def.Web.Timeout
	}
	if p.Web.ProbeSettle <= 0 {
		p.Web.ProbeSettle = def.Web.ProbeSettle
	}
	if len(p.Partitions) == 0 {
		p.Partitions = def.Partitions
	}
}

// Validate rejects profiles whose geometry cannot work.
func (p Profile) Validate() error {
	if p.Screen.Width <= 0 || p.Screen.Height <= 0 {
		return fmt.Errorf("config: screen %dx%d", p.Screen.Width, p.Screen.Height)
	}
	if p.Bands.BodyTopY >= p.Bands.BodyBottomY {
		return fmt.Errorf("config: body band [%d,%d] inverted", p.Bands.BodyTopY, p.Bands.BodyBottomY)
	}
	if p.Bands.OptionsTopY >= p.Bands.OptionsBottomY {
		return fmt.Errorf("config: options band [%d,%d] inverted", p.Bands.OptionsTopY, p.Bands.OptionsBottomY)
	}
	if p.Bands.OptionMinWidthFrac <= 0 || p.Bands.OptionMinWidthFrac >= 1 {
		return fmt.Errorf("config: option width fraction %v outside (0,1)", p.Bands.OptionMinWidthFrac)
	}
	for _, part := range p.Partitions {
		if _, ok := p.Keywords.PartNames[part]; !ok {
			return fmt.Errorf("config: partition %q has no name keywords", part)
		}
	}
	return nil
}
