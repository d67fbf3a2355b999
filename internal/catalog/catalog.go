package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"komikbot/internal/util"
)

const chapterMarker = "-chapter-"

var ErrNoChapters = errors.New("no chapter links found on page")

// Identifier is one chapter token as it appears in the site's URLs.
// Orderable identifiers carry a numeric key used only for comparison;
// the raw string is the handle for URL building and folder naming.
type Identifier struct {
	Raw       string
	Key       float64
	Orderable bool
}

// ParseKey classifies a raw identifier. Plain integers and dot-decimals get
// a numeric key; anything with a dash or letters is non-orderable
// (e.g. "160-5", "extra").
func ParseKey(raw string) (float64, bool) {
	if raw == "" || strings.Contains(raw, "-") {
		return 0, false
	}
	for _, r := range raw {
		if r != '.' && (r < '0' || r > '9') {
			return 0, false
		}
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}

	return f, true
}

// Catalog is the ordered, de-duplicated chapter listing of one landing page.
// Chapter order is order of first appearance on the page. Immutable once
// built.
type Catalog struct {
	MangaName string
	Template  string // one %s slot for the identifier
	Chapters  []Identifier

	MaxKey float64
	HasMax bool
}

func (c *Catalog) URLFor(raw string) string {
	return fmt.Sprintf(c.Template, raw)
}

// Position returns the page-appearance index of an identifier, or -1.
func (c *Catalog) Position(raw string) int {
	for i, id := range c.Chapters {
		if id.Raw == raw {
			return i
		}
	}
	return -1
}

// FindExact resolves a user token by literal string match.
func (c *Catalog) FindExact(raw string) (Identifier, bool) {
	for _, id := range c.Chapters {
		if id.Raw == raw {
			return id, true
		}
	}
	return Identifier{}, false
}

// FindNumeric resolves a user token by numeric key, so "9" matches a catalog
// entry stored as "09" and "1.5" matches "1.5".
func (c *Catalog) FindNumeric(key float64) (Identifier, bool) {
	for _, id := range c.Chapters {
		if id.Orderable && id.Key == key {
			return id, true
		}
	}
	return Identifier{}, false
}

// DisplaySorted returns the chapters ordered for user-facing previews:
// orderable ones by numeric key, non-orderable ones after them keeping
// their page order.
func (c *Catalog) DisplaySorted() []Identifier {
	out := make([]Identifier, len(c.Chapters))
	copy(out, c.Chapters)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Orderable != out[j].Orderable {
			return out[i].Orderable
		}
		if !out[i].Orderable {
			return false // keep page order among non-orderable
		}
		return out[i].Key < out[j].Key
	})

	return out
}

// Sample returns up to n display-ordered identifier strings, for the
// "available chapters" hint shown on a failed lookup.
func (c *Catalog) Sample(n int) []string {
	sorted := c.DisplaySorted()
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]string, len(sorted))
	for i, id := range sorted {
		out[i] = id.Raw
	}
	return out
}

// Resolver fetches a manga landing page and builds its Catalog. Resolved
// catalogs are cached briefly so repeated sessions against the same manga
// skip the page fetch; catalogs are immutable so sharing is safe.
type Resolver struct {
	client   *http.Client
	siteBase string
	cache    *expirable.LRU[string, *Catalog]
	log      interface {
		Debugf(string, ...any)
	}
}

func NewResolver(client *http.Client, siteBase string, log interface{ Debugf(string, ...any) }) *Resolver {
	return &Resolver{
		client:   client,
		siteBase: strings.TrimRight(siteBase, "/"),
		cache:    expirable.NewLRU[string, *Catalog](32, nil, 10*time.Minute),
		log:      log,
	}
}

func (r *Resolver) Resolve(ctx context.Context, landingURL string) (*Catalog, error) {
	if cat, ok := r.cache.Get(landingURL); ok {
		r.log.Debugf("catalog cache hit for %s\n", landingURL)
		return cat, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", landingURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := util.DoWithRetry(r.client, req, 3, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("fetch landing page: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch landing page: HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse landing page: %w", err)
	}

	cat, err := r.build(doc)
	if err != nil {
		return nil, err
	}

	r.cache.Add(landingURL, cat)
	return cat, nil
}

func (r *Resolver) build(doc *goquery.Document) (*Catalog, error) {
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if strings.Contains(href, chapterMarker) {
			hrefs = append(hrefs, r.absolutize(strings.TrimSpace(href)))
		}
	})

	if len(hrefs) == 0 {
		return nil, ErrNoChapters
	}

	slug := strings.TrimPrefix(hrefs[0][:strings.Index(hrefs[0], chapterMarker)], r.siteBase+"/")
	slug = strings.Trim(slug, "/")

	cat := &Catalog{
		MangaName: slug[strings.LastIndex(slug, "/")+1:],
		Template:  r.siteBase + "/" + slug + chapterMarker + "%s/",
	}

	seen := map[string]bool{}
	for _, href := range hrefs {
		raw := identifierToken(href)
		if raw == "" || seen[raw] {
			continue
		}
		seen[raw] = true

		key, orderable := ParseKey(raw)
		cat.Chapters = append(cat.Chapters, Identifier{Raw: raw, Key: key, Orderable: orderable})

		if orderable && (!cat.HasMax || key > cat.MaxKey) {
			cat.MaxKey = key
			cat.HasMax = true
		}
	}

	if len(cat.Chapters) == 0 {
		return nil, ErrNoChapters
	}

	return cat, nil
}

// identifierToken extracts the raw identifier from a chapter link: the text
// after the last chapter marker, up to the next path or query separator.
func identifierToken(href string) string {
	idx := strings.LastIndex(href, chapterMarker)
	if idx < 0 {
		return ""
	}

	raw := href[idx+len(chapterMarker):]
	raw = strings.ReplaceAll(raw, "/", "")
	if q := strings.Index(raw, "?"); q >= 0 {
		raw = raw[:q]
	}

	return raw
}

func (r *Resolver) absolutize(href string) string {
	switch {
	case strings.HasPrefix(href, "http"):
		return href
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return r.siteBase + href
	default:
		return "https://" + href
	}
}
