package fetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"

	"komikbot/internal/cancel"
	"komikbot/internal/util"
)

// Mode selects the crop and image-quality policy for a chapter fetch.
type Mode int

const (
	ModeNormal Mode = iota
	ModeBig
)

func (m Mode) String() string {
	if m == ModeBig {
		return "big"
	}
	return "normal"
}

// FolderName keys chapter assets by (identifier, mode) so normal- and
// big-mode downloads of the same chapter never collide.
func FolderName(identifier string, m Mode) string {
	if m == ModeBig {
		return "chapter-" + identifier + "-big"
	}
	return "chapter-" + identifier
}

const bigModeMinWidth = 1200

// Progress receives per-image download updates; nil is a valid receiver
// for callers without a display surface.
type Progress interface {
	Update(done, total int)
	MarkDone()
}

type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

type Fetcher struct {
	client      *http.Client
	downloadDir string
	siteBase    string
	allowed     *regexp.Regexp
	adPatterns  []string
	log         Logger
}

func New(client *http.Client, downloadDir, siteBase string, allowExt, adPatterns []string, log Logger) *Fetcher {
	return &Fetcher{
		client:      client,
		downloadDir: downloadDir,
		siteBase:    strings.TrimRight(siteBase, "/"),
		allowed:     buildExtRegex(allowExt),
		adPatterns:  adPatterns,
		log:         log,
	}
}

func buildExtRegex(exts []string) *regexp.Regexp {
	clean := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(e)), ".")
		if e != "" {
			clean = append(clean, regexp.QuoteMeta(e))
		}
	}
	if len(clean) == 0 {
		clean = []string{"jpg", "jpeg", "png", "webp"}
	}

	return regexp.MustCompile(`(?i)\.(` + strings.Join(clean, "|") + `)$`)
}

// Fetch downloads one chapter's images into its asset folder and returns the
// saved paths in page order. An unreachable or empty chapter returns no paths
// and no error: the caller treats that as "chapter not found", which must not
// abort a batch. Cancellation mid-chapter discards the partial folder.
func (f *Fetcher) Fetch(ctx context.Context, template, identifier string, mode Mode, tok *cancel.Token, ph Progress) ([]string, error) {
	doc, ok := f.fetchChapterPage(ctx, template, identifier)
	if !ok {
		return nil, nil
	}

	urls := f.collectImageURLs(doc, mode)
	if len(urls) == 0 {
		f.log.Infof("no images found for chapter %s\n", identifier)
		return nil, nil
	}

	urls = crop(urls, mode)

	folder := filepath.Join(f.downloadDir, FolderName(identifier, mode))
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, err
	}

	if ph != nil {
		ph.Update(0, len(urls))
		defer ph.MarkDone()
	}

	var files []string
	for i, u := range urls {
		if tok.Cancelled() {
			f.log.Infof("download cancelled for chapter %s\n", identifier)
			_ = os.RemoveAll(folder)
			return nil, nil
		}

		path := filepath.Join(folder, fmt.Sprintf("%03d.jpg", i+1))
		if err := f.downloadImage(ctx, u, path, mode); err != nil {
			f.log.Errorf("image %d/%d for chapter %s failed: %v\n", i+1, len(urls), identifier, err)
			continue
		}

		files = append(files, path)
		if ph != nil {
			ph.Update(i+1, len(urls))
		}
	}

	return files, nil
}

// fetchChapterPage retrieves the chapter document, retrying one zero-padded
// URL variant for bare single-digit identifiers ("5" -> "05"), a quirk of
// the site's inconsistent chapter slugs.
func (f *Fetcher) fetchChapterPage(ctx context.Context, template, identifier string) (*goquery.Document, bool) {
	doc, err := f.fetchDOM(ctx, fmt.Sprintf(template, identifier))
	if err == nil {
		return doc, true
	}

	if len(identifier) == 1 && identifier[0] >= '1' && identifier[0] <= '9' {
		alt := fmt.Sprintf(template, "0"+identifier)
		f.log.Infof("chapter %s not reachable, trying %s\n", identifier, alt)

		if doc, err = f.fetchDOM(ctx, alt); err == nil {
			return doc, true
		}
	}

	f.log.Infof("chapter %s not reachable: %v\n", identifier, err)
	return nil, false
}

func (f *Fetcher) fetchDOM(ctx context.Context, target string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := util.DoWithRetry(f.client, req, 2, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return goquery.NewDocumentFromReader(resp.Body)
}

// collectImageURLs walks the page's img tags (primary or lazy-load source),
// keeps allowed raster extensions, drops ad/asset URLs and normalizes the
// rest to absolute form. Big mode additionally rewrites each URL toward a
// higher-resolution variant.
func (f *Fetcher) collectImageURLs(doc *goquery.Document, mode Mode) []string {
	var urls []string

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, _ = img.Attr("data-src")
		}
		src = strings.TrimSpace(src)
		if src == "" || !f.allowed.MatchString(src) {
			return
		}

		for _, pat := range f.adPatterns {
			if strings.Contains(src, pat) {
				return
			}
		}

		src = f.absolutize(src)

		if mode == ModeBig {
			src = upgradeResolution(src)
		}

		urls = append(urls, src)
	})

	return urls
}

func (f *Fetcher) absolutize(src string) string {
	switch {
	case strings.HasPrefix(src, "http"):
		return src
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "/"):
		return f.siteBase + src
	default:
		return "https://" + src
	}
}

// upgradeResolution rewrites known thumbnail forms to their large variants.
// Only the first matching rule applies.
func upgradeResolution(src string) string {
	switch {
	case strings.Contains(src, "?resize="):
		return src[:strings.Index(src, "?resize=")]
	case strings.Contains(src, "thumb"):
		return strings.Replace(src, "thumb", "full", 1)
	case strings.Contains(src, "_small"):
		return strings.Replace(src, "_small", "_large", 1)
	case strings.Contains(src, "_medium"):
		return strings.Replace(src, "_medium", "_large", 1)
	default:
		return src
	}
}

// crop applies the mode's leading/trailing filler policy. Normal pages open
// with 3 UI chrome images; big-mode pages additionally close with one.
func crop(urls []string, mode Mode) []string {
	if mode == ModeBig {
		if len(urls) > 4 {
			return urls[3 : len(urls)-1]
		}
		return urls
	}

	if len(urls) > 3 {
		return urls[3:]
	}
	return urls
}

func (f *Fetcher) downloadImage(ctx context.Context, u, output string, mode Mode) error {
	ctx, cancelFn := context.WithTimeout(ctx, 30*time.Second)
	defer cancelFn()

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := util.DoWithRetry(f.client, req, 2, time.Second)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}

	img, err := decodeImage(buf.Bytes())
	if err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}

	if mode == ModeBig {
		img = resizeBig(img)
		return imaging.Save(img, output, imaging.JPEGQuality(100))
	}

	return imaging.Save(img, output, imaging.JPEGQuality(90))
}

// decodeImage handles the site's raster formats; webp needs its own decoder,
// the rest go through imaging.
func decodeImage(data []byte) (image.Image, error) {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return webp.Decode(bytes.NewReader(data))
	}
	return imaging.Decode(bytes.NewReader(data))
}

// resizeBig enforces big mode's sizing: sources under the width floor are
// scaled up to it, everything else grows 1.5x.
func resizeBig(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var nw, nh int
	if w < bigModeMinWidth {
		scale := float64(bigModeMinWidth) / float64(w)
		nw = bigModeMinWidth
		nh = int(float64(h) * scale)
	} else {
		nw = int(float64(w) * 1.5)
		nh = int(float64(h) * 1.5)
	}

	return imaging.Resize(img, nw, nh, imaging.Lanczos)
}
