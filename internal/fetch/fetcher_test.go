package fetch

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"komikbot/internal/cancel"
)

type nopLog struct{}

func (nopLog) Debugf(string, ...any) {}
func (nopLog) Infof(string, ...any)  {}
func (nopLog) Errorf(string, ...any) {}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func TestCrop(t *testing.T) {
	urls := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("u%d", i)
		}
		return out
	}

	assert.Equal(t, urls(3), crop(urls(3), ModeNormal), "at the boundary nothing is dropped")
	assert.Equal(t, []string{"u3"}, crop(urls(4), ModeNormal))
	assert.Equal(t, []string{"u3", "u4", "u5"}, crop(urls(6), ModeNormal))

	assert.Equal(t, urls(4), crop(urls(4), ModeBig), "at the boundary nothing is dropped")
	assert.Equal(t, []string{"u3"}, crop(urls(5), ModeBig))
	assert.Equal(t, []string{"u3", "u4"}, crop(urls(6), ModeBig))
}

func TestUpgradeResolution(t *testing.T) {
	cases := map[string]string{
		"https://x/img/p_small.jpg?resize=300,450": "https://x/img/p_small.jpg",
		"https://x/thumb/p_thumb.jpg":              "https://x/full/p_thumb.jpg",
		"https://x/img/p_small.jpg":                "https://x/img/p_large.jpg",
		"https://x/img/p_medium.jpg":               "https://x/img/p_large.jpg",
		"https://x/img/p.jpg":                      "https://x/img/p.jpg",
	}

	for in, want := range cases {
		assert.Equal(t, want, upgradeResolution(in), "input %s", in)
	}
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "chapter-12", FolderName("12", ModeNormal))
	assert.Equal(t, "chapter-12-big", FolderName("12", ModeBig))
}

// chapterPage renders n image tags plus one ad image and one non-raster link.
func chapterPage(n int) string {
	var b bytes.Buffer
	b.WriteString(`<html><body>`)
	b.WriteString(`<img src="/assets/komikuplus/banner.jpg">`)
	b.WriteString(`<img src="/img/cover.gif">`)
	for i := 1; i <= n; i++ {
		if i%2 == 0 {
			fmt.Fprintf(&b, `<img data-src="/img/%d.jpg">`, i)
		} else {
			fmt.Fprintf(&b, `<img src="/img/%d.jpg">`, i)
		}
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func newTestFetcher(t *testing.T, handler http.HandlerFunc) (*Fetcher, *httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	f := New(srv.Client(), dir, srv.URL,
		[]string{"jpg", "jpeg", "png", "webp"},
		[]string{"komikuplus", "asset/img"}, nopLog{})
	return f, srv, dir
}

func TestFetchDownloadsCroppedImages(t *testing.T) {
	img := jpegBytes(t, 40, 60)

	f, srv, dir := newTestFetcher(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/naruto-chapter-12/":
			fmt.Fprint(w, chapterPage(5))
		case filepath.Ext(req.URL.Path) == ".jpg":
			_, _ = w.Write(img)
		default:
			http.NotFound(w, req)
		}
	})

	files, err := f.Fetch(context.Background(), srv.URL+"/naruto-chapter-%s/", "12", ModeNormal, cancel.NewToken(), nil)
	require.NoError(t, err)

	// 5 page images, first 3 cropped as chrome; the ad and the gif never count.
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "chapter-12", "001.jpg"), files[0])
	assert.Equal(t, filepath.Join(dir, "chapter-12", "002.jpg"), files[1])

	for _, p := range files {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
}

func TestFetchZeroPadFallback(t *testing.T) {
	img := jpegBytes(t, 40, 60)

	f, srv, _ := newTestFetcher(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/naruto-chapter-5/":
			http.NotFound(w, req)
		case req.URL.Path == "/naruto-chapter-05/":
			fmt.Fprint(w, chapterPage(4))
		case filepath.Ext(req.URL.Path) == ".jpg":
			_, _ = w.Write(img)
		default:
			http.NotFound(w, req)
		}
	})

	files, err := f.Fetch(context.Background(), srv.URL+"/naruto-chapter-%s/", "5", ModeNormal, cancel.NewToken(), nil)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestFetchUnreachableChapterIsNotAnError(t *testing.T) {
	f, srv, _ := newTestFetcher(t, func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	})

	files, err := f.Fetch(context.Background(), srv.URL+"/naruto-chapter-%s/", "9999", ModeNormal, cancel.NewToken(), nil)
	assert.NoError(t, err)
	assert.Nil(t, files)
}

func TestFetchCancelledDiscardsFolder(t *testing.T) {
	f, srv, dir := newTestFetcher(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, chapterPage(5))
	})

	tok := cancel.NewToken()
	tok.Cancel()

	files, err := f.Fetch(context.Background(), srv.URL+"/naruto-chapter-%s/", "12", ModeNormal, tok, nil)
	assert.NoError(t, err)
	assert.Nil(t, files)

	_, statErr := os.Stat(filepath.Join(dir, "chapter-12"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchSkipsUndecodableImage(t *testing.T) {
	img := jpegBytes(t, 40, 60)

	f, srv, _ := newTestFetcher(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/naruto-chapter-12/":
			fmt.Fprint(w, chapterPage(5))
		case req.URL.Path == "/img/4.jpg":
			fmt.Fprint(w, "not an image")
		case filepath.Ext(req.URL.Path) == ".jpg":
			_, _ = w.Write(img)
		default:
			http.NotFound(w, req)
		}
	})

	files, err := f.Fetch(context.Background(), srv.URL+"/naruto-chapter-%s/", "12", ModeNormal, cancel.NewToken(), nil)
	require.NoError(t, err)
	assert.Len(t, files, 1, "the broken page is skipped, the rest survive")
}

func TestFetchBigModeUpscalesToMinWidth(t *testing.T) {
	img := jpegBytes(t, 300, 450)

	f, srv, _ := newTestFetcher(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/naruto-chapter-12/":
			fmt.Fprint(w, chapterPage(6))
		case filepath.Ext(req.URL.Path) == ".jpg":
			_, _ = w.Write(img)
		default:
			http.NotFound(w, req)
		}
	})

	files, err := f.Fetch(context.Background(), srv.URL+"/naruto-chapter-%s/", "12", ModeBig, cancel.NewToken(), nil)
	require.NoError(t, err)

	// 6 images, big crop drops the first 3 and the last 1.
	require.Len(t, files, 2)

	saved, err := imaging.Open(files[0])
	require.NoError(t, err)
	assert.Equal(t, 1200, saved.Bounds().Dx())
	assert.Equal(t, 1800, saved.Bounds().Dy())
}
