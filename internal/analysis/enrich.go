package analysis

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"paperlens/internal/config"
	"paperlens/internal/dispatch"
	"paperlens/internal/models"
)

type linkWire struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// enrichLinks looks up a canonical URL for every recommendation in parallel.
// Results are joined by position; a failed lookup leaves that entry without
// a link.
func (s *Service) enrichLinks(ctx context.Context, snap config.ProviderSettings, recs []models.Recommendation) []models.Recommendation {
	if len(recs) == 0 {
		return recs
	}
	out := make([]models.Recommendation, len(recs))
	copy(out, recs)

	var g errgroup.Group
	for i := range out {
		i := i
		g.Go(func() error {
			out[i].Link, out[i].LinkVerified = s.lookupLink(ctx, snap, out[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) lookupLink(ctx context.Context, snap config.ProviderSettings, rec models.Recommendation) (string, bool) {
	resp, err := s.dispatcher.Dispatch(ctx, snap, dispatch.Call{
		Operation:         OpLinkLookup,
		Prompt:            linkPrompt(rec),
		SystemInstruction: linkSystem,
		JSONMode:          true,
		AllowSearch:       true,
		Temperature:       tempLinkLookup,
	})
	if err != nil {
		s.log.Debug("link lookup failed", "title", rec.Title, "error", err)
		return "", false
	}
	var wire linkWire
	if !s.extractor.Decode(resp.Text, &wire) {
		return "", false
	}
	link, ok := normalizeLink(wire.URL)
	if !ok {
		return "", false
	}
	if s.verifier == nil {
		return link, false
	}
	if !s.verifier.Verify(ctx, link, rec.Title) {
		s.log.Debug("link rejected by verifier", "title", rec.Title, "link", link)
		return "", false
	}
	return link, true
}

func normalizeLink(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return u.String(), true
}

// HTTPLinkVerifier fetches a page and checks that it is about the expected
// paper by comparing title words.
type HTTPLinkVerifier struct {
	client   *http.Client
	minMatch float64
}

func NewHTTPLinkVerifier(client *http.Client) *HTTPLinkVerifier {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPLinkVerifier{client: client, minMatch: 0.5}
}

func (v *HTTPLinkVerifier) Verify(ctx context.Context, link, title string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "paperlens/1.0 (link check)")
	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "html") {
		// PDFs and other documents resolve but carry no title to compare.
		return true
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return false
	}
	return titleOverlap(pageTitles(doc), title) >= v.minMatch
}

func pageTitles(doc *goquery.Document) []string {
	var out []string
	for _, sel := range []string{`meta[name="citation_title"]`, `meta[property="og:title"]`, `meta[name="dc.title"]`} {
		if c, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		out = append(out, t)
	}
	if h := strings.TrimSpace(doc.Find("h1").First().Text()); h != "" {
		out = append(out, h)
	}
	return out
}

// titleOverlap is the best share of the expected title's words found in any
// candidate page title.
func titleOverlap(candidates []string, expected string) float64 {
	want := titleWords(expected)
	if len(want) == 0 {
		return 1
	}
	best := 0.0
	for _, c := range candidates {
		have := map[string]struct{}{}
		for _, w := range titleWords(c) {
			have[w] = struct{}{}
		}
		hit := 0
		for _, w := range want {
			if _, ok := have[w]; ok {
				hit++
			}
		}
		if score := float64(hit) / float64(len(want)); score > best {
			best = score
		}
	}
	return best
}

func titleWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		out = append(out, f)
	}
	return out
}
