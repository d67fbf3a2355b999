package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"

	"komikbot/internal/util"
)

const (
	// batchSize bounds how many source images are decoded per pass; output
	// is unaffected by it.
	batchSize = 10

	// pixelAreaLimit is the decode-size safeguard: anything over 4 MP gets
	// downscaled before encoding.
	pixelAreaLimit = 4_000_000

	primaryQuality  = 85
	fallbackQuality = 70

	// fallbackMaxImages caps the reduced retry pass.
	fallbackMaxImages = 20

	// warnBytes is the point where the result gets close to the inline
	// delivery ceiling.
	warnBytes = 45 * 1024 * 1024
)

var ErrNoPages = errors.New("no images could be processed into pages")

type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

type Assembler struct {
	log Logger
}

func New(log Logger) *Assembler {
	return &Assembler{log: log}
}

// Assemble encodes the ordered image files into one PDF at output, one page
// per image. If the primary pass fails it retries with a reduced fallback:
// at most the first 20 images, downscaled harder, at lower quality. With no
// input it does nothing; the caller observes the document absent from disk.
func (a *Assembler) Assemble(images []string, output string) error {
	if len(images) == 0 {
		a.log.Infof("no images to assemble for %s\n", output)
		return nil
	}

	if err := a.build(images, output, primaryQuality, false); err != nil {
		a.log.Errorf("PDF assembly failed for %s: %v, retrying reduced\n", output, err)

		reduced := images
		if len(reduced) > fallbackMaxImages {
			reduced = reduced[:fallbackMaxImages]
		}

		if err := a.build(reduced, output, fallbackQuality, true); err != nil {
			_ = os.Remove(output)
			return fmt.Errorf("fallback PDF assembly: %w", err)
		}
	}

	if fi, err := os.Stat(output); err == nil {
		a.log.Infof("PDF created: %s (%s)\n", output, util.Human(fi.Size()))
		if fi.Size() >= warnBytes {
			a.log.Infof("warning: %s is close to the 50MB delivery limit\n", output)
		}
	}

	return nil
}

func (a *Assembler) build(images []string, output string, quality int, reduced bool) error {
	doc := fpdf.New("P", "pt", "A4", "")

	pages := 0
	for start := 0; start < len(images); start += batchSize {
		end := start + batchSize
		if end > len(images) {
			end = len(images)
		}

		for i, path := range images[start:end] {
			img, err := imaging.Open(path)
			if err != nil {
				a.log.Errorf("skipping %s: %v\n", path, err)
				continue
			}

			img = shrink(img, reduced)

			var buf bytes.Buffer
			if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
				a.log.Errorf("skipping %s: %v\n", path, err)
				continue
			}

			w := float64(img.Bounds().Dx())
			h := float64(img.Bounds().Dy())

			name := fmt.Sprintf("page_%04d", start+i+1)
			opts := fpdf.ImageOptions{ImageType: "JPEG"}

			doc.RegisterImageOptionsReader(name, opts, &buf)
			doc.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
			doc.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
			pages++
		}
	}

	if pages == 0 {
		return ErrNoPages
	}
	if doc.Err() {
		return doc.Error()
	}

	return doc.OutputFileAndClose(output)
}

// shrink applies the size safeguards: the primary pass only downscales
// oversized sources, the reduced pass downscales everything.
func shrink(img image.Image, reduced bool) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch {
	case reduced:
		return imaging.Resize(img, int(float64(w)*0.6), int(float64(h)*0.6), imaging.Lanczos)
	case w*h > pixelAreaLimit:
		return imaging.Resize(img, int(float64(w)*0.8), int(float64(h)*0.8), imaging.Lanczos)
	default:
		return img
	}
}
