package webbank

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/question"
	"github.com/ruiyi-1/KPP-Test/internal/store"
)

// PageFetcher supplies parsed set pages and raw image assets.
type PageFetcher interface {
	Page(ctx context.Context, url string) (*goquery.Document, error)
	Image(ctx context.Context, rawURL string) ([]byte, string, error)
}

// AnswerProber reveals correct answers by clicking options in a live page.
// A nil prober degrades the scrape to extraction only, leaving every
// answer unset.
type AnswerProber interface {
	Open(ctx context.Context, url string) error
	Reveal(ctx context.Context, questionID string, position, optionCount int) (int, error)
	Close(ctx context.Context) error
}

// Summary is what one scrape run accomplished.
type Summary struct {
	Sets      int // sets scraped this run
	Skipped   int // sets already done per the progress file
	Questions int // records stored
	Answered  int // records with a revealed answer
	Images    int // assets downloaded
}

// Scraper walks the section catalog set by set. Each finished set updates
// the section dataset on disk and the progress file, so an interrupted run
// resumes at the first unfinished set with nothing lost.
type Scraper struct {
	cfg      config.Profile
	fetcher  PageFetcher
	prober   AnswerProber
	extract  *Extractor
	progress *store.WebProgressFile
	logger   zerolog.Logger
}

func NewScraper(cfg config.Profile, fetcher PageFetcher, prober AnswerProber, logger zerolog.Logger) *Scraper {
	return &Scraper{
		cfg:      cfg,
		fetcher:  fetcher,
		prober:   prober,
		extract:  NewExtractor(cfg.Web.AdMarkers, logger.With().Str("comp", "webextract").Logger()),
		progress: store.NewWebProgressFile(cfg.Paths.WebProgressFile, logger),
		logger:   logger,
	}
}

// Run scrapes every configured section, or just one when onlySection is
// set. Set-level failures are logged and skipped so one broken page never
// sinks a run; only context cancellation and disk errors end it.
func (s *Scraper) Run(ctx context.Context, onlySection string) (Summary, error) {
	var sum Summary
	sections := s.cfg.Web.Sections
	if onlySection != "" {
		sections = nil
		for _, sec := range s.cfg.Web.Sections {
			if strings.EqualFold(sec.Name, onlySection) {
				sections = append(sections, sec)
			}
		}
		if len(sections) == 0 {
			return sum, fmt.Errorf("unknown section %q", onlySection)
		}
	}
	progress := s.progress.Load()
	for _, section := range sections {
		if err := s.scrapeSection(ctx, section, &progress, &sum); err != nil {
			return sum, err
		}
	}
	s.logger.Info().
		Int("sets", sum.Sets).
		Int("skipped", sum.Skipped).
		Int("questions", sum.Questions).
		Int("answered", sum.Answered).
		Int("images", sum.Images).
		Msg("scrape finished")
	return sum, nil
}

func (s *Scraper) scrapeSection(ctx context.Context, section config.WebSection, progress *store.WebProgress, sum *Summary) error {
	refs := SectionSets(section)
	if len(refs) == 0 {
		return nil
	}
	name := refs[0].Section
	outPath := filepath.Join(s.cfg.Paths.WebOutputDir, fmt.Sprintf("section-%s.json", name))
	ds, err := s.loadSectionDataset(outPath)
	if err != nil {
		return err
	}
	// Resume continues the ordinal sequence of whatever earlier runs stored.
	ordinal := 0
	for _, q := range ds.Questions {
		if q.Ordinal > ordinal {
			ordinal = q.Ordinal
		}
	}
	logger := s.logger.With().Str("section", name).Logger()
	for _, ref := range refs {
		pageURL := ref.URL(s.cfg.Web.BaseURL)
		if progress.Done(pageURL) {
			logger.Debug().Str("set", ref.ID()).Msg("set already scraped")
			sum.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info().Str("set", ref.ID()).Str("url", pageURL).Msg("scraping set")
		records, err := s.scrapeSet(ctx, ref, pageURL, &ordinal, sum)
		if err != nil {
			if ctxEnded(err) {
				return err
			}
			logger.Warn().Err(err).Str("set", ref.ID()).Msg("set failed, will retry next run")
			continue
		}
		ds.Questions = append(ds.Questions, records...)
		ds.Total = len(ds.Questions)
		if err := store.SaveDataset(outPath, ds); err != nil {
			return err
		}
		progress.MarkDone(pageURL)
		if len(records) > 0 {
			progress.LastQuestionID = records[len(records)-1].ID
		}
		if err := s.progress.Save(*progress); err != nil {
			return err
		}
		sum.Sets++
		logger.Info().Str("set", ref.ID()).Int("questions", len(records)).Msg("set stored")
	}
	return nil
}

// loadSectionDataset reads the section's document from an earlier run, so
// appending this run's sets never drops what is already stored. A missing
// file is a fresh section.
func (s *Scraper) loadSectionDataset(path string) (question.Dataset, error) {
	ds, err := store.LoadDataset(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return question.Dataset{}, nil
		}
		return question.Dataset{}, err
	}
	return ds, nil
}

func (s *Scraper) scrapeSet(ctx context.Context, ref SetRef, pageURL string, ordinal *int, sum *Summary) ([]question.Record, error) {
	doc, err := s.fetcher.Page(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	candidates := s.extract.Questions(doc)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no questions on %s", pageURL)
	}
	answers, err := s.probeAnswers(ctx, pageURL, candidates)
	if err != nil {
		return nil, err
	}
	var records []question.Record
	for ci, cand := range candidates {
		id := fmt.Sprintf("%s-q%d", ref.ID(), ci+1)
		rec, err := s.buildRecord(ctx, id, ref, cand, answers[ci], sum)
		if err != nil {
			if ctxEnded(err) {
				return records, err
			}
			s.logger.Warn().Err(err).Str("question", id).Msg("dropping question")
			continue
		}
		*ordinal++
		rec.Ordinal = *ordinal
		records = append(records, rec)
		sum.Questions++
	}
	return records, nil
}

// buildRecord turns one candidate into a record: downloads its images,
// applies labels in row order and attaches the probed answer. The ordinal
// is assigned by the caller once the record is known to be valid.
func (s *Scraper) buildRecord(ctx context.Context, id string, ref SetRef, cand Candidate, answer int, sum *Summary) (question.Record, error) {
	rec := question.Record{
		ID:         id,
		Partition:  strings.ToUpper(ref.Section),
		Text:       cand.Text,
		CapturedAt: time.Now().UTC(),
	}
	for i, raw := range cand.ImageURLs {
		name := fmt.Sprintf("%s-img-%02d", id, i+1)
		path, err := s.download(ctx, raw, "questions", name, sum)
		if err != nil {
			return rec, err
		}
		if path != "" {
			rec.Images = append(rec.Images, path)
		}
	}
	rec.HasImages = len(rec.Images) > 0

	opts := cand.Options
	if len(opts) > len(question.Labels) {
		s.logger.Warn().Str("question", id).Int("options", len(opts)).Msg("more options than labels, keeping the first four")
		opts = opts[:len(question.Labels)]
	}
	for i, o := range opts {
		opt := question.Option{Label: question.Labels[i], Text: o.Text}
		if o.ImageURL != "" {
			name := fmt.Sprintf("%s-opt-%02d", id, i+1)
			path, err := s.download(ctx, o.ImageURL, "options", name, sum)
			if err != nil {
				return rec, err
			}
			if path != "" {
				opt.HasImage = true
				opt.Image = path
			}
		}
		if opt.Text == "" && !opt.HasImage {
			opt.Text = opt.Label
		}
		rec.Options = append(rec.Options, opt)
		if opt.HasImage {
			rec.HasImageOptions = true
		}
	}
	if answer >= 0 && answer < len(rec.Options) {
		label := rec.Options[answer].Label
		rec.CorrectAnswer = &label
		sum.Answered++
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}

// probeAnswers opens the set page once and reveals each candidate's
// answer. Index i of the result aligns with candidates[i]; -1 means no
// answer. Probe trouble short of cancellation degrades to unanswered.
func (s *Scraper) probeAnswers(ctx context.Context, pageURL string, candidates []Candidate) ([]int, error) {
	answers := make([]int, len(candidates))
	for i := range answers {
		answers[i] = -1
	}
	if s.prober == nil {
		return answers, nil
	}
	if err := s.prober.Open(ctx, pageURL); err != nil {
		if ctxEnded(err) {
			return answers, err
		}
		s.logger.Warn().Err(err).Str("url", pageURL).Msg("probe open failed, keeping answers unset")
		return answers, nil
	}
	defer func() {
		if err := s.prober.Close(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("probe close failed")
		}
	}()
	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return answers, err
		}
		optCount := len(cand.Options)
		if optCount > len(question.Labels) {
			optCount = len(question.Labels)
		}
		idx, err := s.prober.Reveal(ctx, cand.DataID, cand.Position, optCount)
		if err != nil {
			if ctxEnded(err) {
				return answers, err
			}
			s.logger.Warn().Err(err).Int("position", cand.Position).Msg("probe failed for question")
			continue
		}
		answers[i] = idx
	}
	return answers, nil
}

// download stores one asset under the web output dir and returns the
// stored path, or "" when the asset is not worth failing the question
// over. Record paths are relative to the working directory, same as the
// app-side crops, so cleaning and verification resolve both alike. Disk
// write failures do abort, a full disk would sink everything after this
// anyway.
func (s *Scraper) download(ctx context.Context, rawURL, role, name string, sum *Summary) (string, error) {
	data, format, err := s.fetcher.Image(ctx, rawURL)
	if err != nil {
		if ctxEnded(err) {
			return "", err
		}
		s.logger.Warn().Err(err).Str("url", rawURL).Msg("image download failed")
		return "", nil
	}
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	path := filepath.Join(s.cfg.Paths.WebOutputDir, "images", role, name+"."+ext)
	if err := store.WriteBytes(path, data); err != nil {
		return "", err
	}
	sum.Images++
	return path, nil
}

func ctxEnded(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
