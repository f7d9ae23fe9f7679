package perception

import (
	"context"
	"time"

	"github.com/webpilot-org/webpilot/internal/browser"
	"github.com/webpilot-org/webpilot/internal/logger"
)

// Parser is the screen-parser surface the perceptor depends on.
type Parser interface {
	Parse(ctx context.Context, png []byte) ([]Element, error)
	QueryDOMBatch(ctx context.Context, ids []int) (map[int]DOMDetail, error)
	Analyze(ctx context.Context, png []byte, question string) (string, []Element, error)
}

var _ Parser = (*Client)(nil)

// Perceptor produces observations of the shared browser session.
// Screenshot bytes are hashed for caching and then discarded. Browser
// reads hold the session's read lock, so perception never sees a page
// mid-way through another worker's action.
type Perceptor struct {
	session *browser.Session
	parser  Parser
	cache   *Cache

	// onCacheEvent, when set, is called with true on a cache hit and
	// false on a parse.
	onCacheEvent func(hit bool)
}

// NewPerceptor wires a session, a parser, and a cache.
func NewPerceptor(session *browser.Session, parser Parser, cache *Cache) *Perceptor {
	return &Perceptor{session: session, parser: parser, cache: cache}
}

// OnCacheEvent installs a hit/miss observer, used for instrumentation.
func (p *Perceptor) OnCacheEvent(fn func(hit bool)) {
	p.onCacheEvent = fn
}

func (p *Perceptor) noteCache(hit bool) {
	if p.onCacheEvent != nil {
		p.onCacheEvent(hit)
	}
}

// Perceive returns the current observation, reusing a cached parse when
// the page has not visibly changed.
func (p *Perceptor) Perceive(ctx context.Context) (*Observation, error) {
	var url string
	var png []byte
	err := p.session.Observe(ctx, func(drv browser.Driver) error {
		u, err := drv.URL(ctx)
		if err != nil {
			return err
		}
		shot, err := drv.Screenshot(ctx)
		if err != nil {
			return err
		}
		url, png = u, shot
		return nil
	})
	if err != nil {
		return nil, err
	}
	hash := hashScreenshot(png)

	if obs, ok := p.cache.Get(url, hash); ok {
		logger.Debug(ctx, "Perception cache hit", "url", url)
		p.noteCache(true)
		return obs, nil
	}
	p.noteCache(false)

	elements, err := p.parser.Parse(ctx, png)
	if err != nil {
		return nil, err
	}
	obs := &Observation{
		URL:            url,
		ScreenshotHash: hash,
		Elements:       elements,
		CapturedAt:     time.Now(),
	}
	p.cache.Put(obs)
	logger.Debug(ctx, "Page parsed", "url", url, "elements", len(elements))
	return obs, nil
}

// Analyze takes a fresh screenshot and asks the vision model about it.
// Reported elements are merged into a copy of the observation.
func (p *Perceptor) Analyze(ctx context.Context, obs *Observation, question string) (string, *Observation, error) {
	var png []byte
	err := p.session.Observe(ctx, func(drv browser.Driver) error {
		shot, err := drv.Screenshot(ctx)
		if err != nil {
			return err
		}
		png = shot
		return nil
	})
	if err != nil {
		return "", obs, err
	}
	answer, visual, err := p.parser.Analyze(ctx, png, question)
	if err != nil {
		return "", obs, err
	}
	if len(visual) == 0 {
		return answer, obs, nil
	}

	merged := &Observation{
		URL:            obs.URL,
		ScreenshotHash: obs.ScreenshotHash,
		Elements:       append(append([]Element(nil), obs.Elements...), visual...),
		CapturedAt:     obs.CapturedAt,
	}
	return answer, merged, nil
}

// ElementDetails fetches DOM details and attaches them to the matching
// elements of the observation in place.
func (p *Perceptor) ElementDetails(ctx context.Context, obs *Observation, ids []int) error {
	details, err := p.parser.QueryDOMBatch(ctx, ids)
	if err != nil {
		return err
	}
	for i := range obs.Elements {
		if d, ok := details[obs.Elements[i].ID]; ok {
			detail := d
			obs.Elements[i].DOM = &detail
		}
	}
	return nil
}

// Invalidate drops cached parses for the URL after a mutating action.
func (p *Perceptor) Invalidate(url string) {
	p.cache.InvalidateURL(url)
}
