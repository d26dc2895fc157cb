// Package browser owns the playwright layer of the website surface. The
// quiz plugin only reveals which option is correct after a real click in
// a live DOM, so static fetching cannot recover answers; the prober opens
// a set page once and clicks options until the affirmative styling shows.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
)

const (
	questionSelector = "div.wpvq-question"
	elementTimeout   = 15 * time.Second
)

// Launcher owns the playwright lifecycle. One launcher serves any number
// of probers sequentially.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	cfg     config.Web
	logger  zerolog.Logger
}

func NewLauncher(cfg config.Web, logger zerolog.Logger) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, cfg: cfg, logger: logger}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// NewProber opens a fresh browser context for one probing session.
func (l *Launcher) NewProber() (*Prober, error) {
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(l.cfg.Timeout.Milliseconds()))
	return &Prober{
		bctx:   bctx,
		page:   page,
		settle: l.cfg.ProbeSettle,
		logger: l.logger,
	}, nil
}

// Prober clicks through a rendered set page to reveal correct answers.
type Prober struct {
	bctx   playwright.BrowserContext
	page   playwright.Page
	settle time.Duration
	logger zerolog.Logger
}

// Open navigates to a set page and waits until the quiz blocks are
// rendered. A page without quiz blocks is an error; the caller keeps its
// statically extracted data and moves on.
func (p *Prober) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return wrap(err)
	}
	first := p.page.Locator(questionSelector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(elementTimeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("quiz blocks not rendered on %s: %w", url, err)
	}
	return nil
}

// Reveal clicks through the options of one question until an option reads
// affirmative, and returns that option's index. questionID is the site's
// data-questionid; when empty, the question is addressed by its DOM
// position. Exhausting every option without affirmative styling returns
// -1 with no error.
func (p *Prober) Reveal(ctx context.Context, questionID string, position, optionCount int) (int, error) {
	root, err := p.question(questionID, position)
	if err != nil {
		return -1, err
	}
	for i := 0; i < optionCount; i++ {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		clicked, err := root.Evaluate(clickOptionScript, i)
		if err != nil {
			return -1, wrap(err)
		}
		if ok, _ := clicked.(bool); !ok {
			break
		}
		if err := pause(ctx, p.settle); err != nil {
			return -1, err
		}
		idx, err := p.scan(root)
		if err != nil {
			return -1, err
		}
		if idx >= 0 {
			p.logger.Debug().
				Str("question", questionID).
				Int("position", position).
				Int("clicks", i+1).
				Int("affirmative", idx).
				Msg("answer revealed")
			return idx, nil
		}
	}
	p.logger.Debug().
		Str("question", questionID).
		Int("position", position).
		Msg("no option read affirmative")
	return -1, nil
}

func (p *Prober) Close(_ context.Context) error {
	if p.page != nil {
		_ = p.page.Close()
	}
	if p.bctx != nil {
		return p.bctx.Close()
	}
	return nil
}

// question resolves the quiz block, preferring the site's own id over
// DOM position. Position is the fallback because interleaved ad blocks
// can shift it.
func (p *Prober) question(questionID string, position int) (playwright.Locator, error) {
	if strings.TrimSpace(questionID) != "" {
		byID := p.page.Locator(fmt.Sprintf("%s[data-questionid='%s']", questionSelector, questionID))
		n, err := byID.Count()
		if err != nil {
			return nil, wrap(err)
		}
		if n > 0 {
			return byID.First(), nil
		}
		p.logger.Debug().Str("question", questionID).Msg("data-questionid not present, falling back to position")
	}
	all := p.page.Locator(questionSelector)
	n, err := all.Count()
	if err != nil {
		return nil, wrap(err)
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("question position %d outside %d rendered blocks", position, n)
	}
	return all.Nth(position), nil
}

func (p *Prober) scan(root playwright.Locator) (int, error) {
	val, err := root.Evaluate(scanAffirmativeScript, nil)
	if err != nil {
		return -1, wrap(err)
	}
	switch v := val.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return -1, fmt.Errorf("affirmative scan returned %T", val)
	}
}

// clickOptionScript clicks the idx-th answer of a quiz block, preferring
// the radio input, then the styled label, then the row itself. Returns
// false when the block has no such answer.
const clickOptionScript = `(el, idx) => {
	const answers = el.querySelectorAll('div.wpvq-answer');
	if (idx >= answers.length) {
		return false;
	}
	const answer = answers[idx];
	const input = answer.querySelector("input[type='radio']");
	if (input) {
		input.click();
		return true;
	}
	const label = answer.querySelector('label.vq-css-label');
	if (label) {
		label.click();
		return true;
	}
	answer.click();
	return true;
}`

// scanAffirmativeScript returns the index of the answer styled as
// correct, or -1. Checks class names first, then the known green
// palette in inline and computed backgrounds.
const scanAffirmativeScript = `(el) => {
	const classMarkers = ['correct', 'wpvq-true', 'success', 'green'];
	const greens = [
		'rgb(82, 196, 26)', '#52c41a',
		'rgb(76, 175, 80)', '#4caf50',
		'rgb(183, 223, 170)', 'rgb(246, 255, 237)',
	];
	const answers = el.querySelectorAll('div.wpvq-answer');
	for (let i = 0; i < answers.length; i++) {
		const answer = answers[i];
		const label = answer.querySelector('label.vq-css-label');
		const cls = ((answer.className || '') + ' ' + (label ? label.className || '' : '')).toLowerCase();
		if (classMarkers.some(m => cls.includes(m))) {
			return i;
		}
		const style = ((answer.getAttribute('style') || '') + ' ' + (label ? label.getAttribute('style') || '' : '')).toLowerCase();
		if (greens.some(g => style.includes(g)) || style.includes('background-color: green')) {
			return i;
		}
		const target = label || answer;
		const computed = window.getComputedStyle(target).backgroundColor || '';
		if (greens.includes(computed)) {
			return i;
		}
	}
	return -1;
}`

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
