// Package webresearch implements the web_research skill: it fetches the
// requested pages and emits source and fact candidates for the run.
package webresearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/astrahq/astra/internal/port/skill"
)

const (
	maxBodyBytes   = 1 << 20
	snippetRunes   = 280
	defaultTimeout = 20 * time.Second
	maxConcurrent  = 4
)

var inputSchema = json.RawMessage(`{
	"type": "object",
	"required": ["query"],
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"urls": {"type": "array", "items": {"type": "string"}},
		"max_sources": {"type": "integer", "minimum": 1, "maximum": 20}
	}
}`)

type inputs struct {
	Query      string   `json:"query"`
	URLs       []string `json:"urls"`
	MaxSources int      `json:"max_sources"`
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Skill fetches web pages in-process and turns them into sources.
type Skill struct {
	client *http.Client
}

// New creates the web_research skill. A nil client gets a default with a
// sane timeout.
func New(client *http.Client) *Skill {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Skill{client: client}
}

func (s *Skill) Manifest() skill.Manifest {
	return skill.Manifest{
		Name:        "web_research",
		Version:     "1.0.0",
		Title:       "Web research",
		Scope:       skill.ScopeSafe,
		SideEffects: []string{"network_read"},
		InputSchema: inputSchema,
	}
}

func (s *Skill) Execute(ctx context.Context, inv skill.Invocation) (*skill.Result, error) {
	var in inputs
	if err := json.Unmarshal(inv.Inputs, &in); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}

	maxSources := in.MaxSources
	if maxSources <= 0 {
		maxSources = 5
	}

	urls := in.URLs
	if len(urls) > maxSources {
		urls = urls[:maxSources]
	}

	fetched := make([]skill.SourceCandidate, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, url := range urls {
		g.Go(func() error {
			src, err := s.fetch(gctx, url)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Unreachable pages are usually transient.
				return skill.Retryable(fmt.Errorf("fetch %s: %w", url, err))
			}
			fetched[i] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sources []skill.SourceCandidate
	var facts []skill.FactCandidate
	for _, src := range fetched {
		sources = append(sources, src)
		if src.Snippet != "" {
			facts = append(facts, skill.FactCandidate{
				Claim:      src.Snippet,
				Confidence: 0.4,
				SourceIdx:  len(sources) - 1,
			})
		}
	}

	confidence := 0.1
	if len(sources) > 0 {
		confidence = 0.4
	}
	return &skill.Result{
		Summary:    fmt.Sprintf("collected %d source candidates for %q", len(sources), in.Query),
		Confidence: confidence,
		Sources:    sources,
		Facts:      facts,
	}, nil
}

func (s *Skill) fetch(ctx context.Context, url string) (skill.SourceCandidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return skill.SourceCandidate{}, err
	}
	req.Header.Set("User-Agent", "astra-research/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return skill.SourceCandidate{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return skill.SourceCandidate{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return skill.SourceCandidate{}, err
	}

	title := ""
	if m := titleRe.FindSubmatch(body); m != nil {
		title = strings.TrimSpace(string(m[1]))
	}

	reliability := 0.5
	if strings.HasPrefix(url, "https://") {
		reliability = 0.7
	}
	return skill.SourceCandidate{
		URL:         url,
		Title:       title,
		Snippet:     snippet(body),
		Reliability: reliability,
	}, nil
}

var tagRe = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]*>`)

// snippet extracts the first human-readable chunk of an HTML body.
func snippet(body []byte) string {
	text := tagRe.ReplaceAllString(string(body), " ")
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > snippetRunes {
		runes = runes[:snippetRunes]
	}
	return strings.TrimSpace(string(runes))
}
