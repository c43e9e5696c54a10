package monitor

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"sync"

	"github.com/banshee-data/yawtrack/internal/mode"
)

var (
	colorBackground = color.RGBA{R: 32, G: 32, B: 32, A: 255}
	colorDetection  = color.RGBA{R: 240, G: 200, B: 40, A: 255}
	colorTracked    = color.RGBA{R: 40, G: 220, B: 80, A: 255}
	colorLost       = color.RGBA{R: 230, G: 50, B: 50, A: 255}
	colorCentre     = color.RGBA{R: 60, G: 140, B: 255, A: 255}
)

// FrameRenderer keeps the most recent frame and draws the coordinator's
// overlay on request. It implements mode.Renderer.
type FrameRenderer struct {
	mu     sync.Mutex
	frame  mode.Frame
	result mode.FrameResult
	seen   bool
}

// Render implements mode.Renderer. It only stores the frame; drawing
// happens when the image is fetched.
func (fr *FrameRenderer) Render(f mode.Frame, res mode.FrameResult) {
	fr.mu.Lock()
	fr.frame, fr.result, fr.seen = f, res, true
	fr.mu.Unlock()
}

// Image draws the latest frame with detection boxes, the tracked region and
// the frame centre line. It returns nil before the first frame.
func (fr *FrameRenderer) Image() *image.RGBA {
	fr.mu.Lock()
	f, res, seen := fr.frame, fr.result, fr.seen
	fr.mu.Unlock()
	if !seen {
		return nil
	}

	bounds := image.Rect(0, 0, f.Width, f.Height)
	if f.Pixels != nil {
		bounds = f.Pixels.Bounds()
	}
	if bounds.Empty() {
		return nil
	}
	img := image.NewRGBA(bounds)
	if f.Pixels != nil {
		draw.Draw(img, bounds, f.Pixels, bounds.Min, draw.Src)
	} else {
		draw.Draw(img, bounds, image.NewUniform(colorBackground), image.Point{}, draw.Src)
	}

	cx := bounds.Min.X + bounds.Dx()/2
	drawRect(img, image.Rect(cx, bounds.Min.Y, cx+1, bounds.Max.Y), colorCentre)

	for _, d := range res.Detections {
		drawRect(img, d.Region.Rect(), colorDetection)
	}
	if res.Mode == mode.Track && !res.Region.Empty() {
		c := colorTracked
		if res.Degraded {
			c = colorLost
		}
		drawRect(img, res.Region.Rect(), c)
	}
	return img
}

// drawRect outlines r, clipped to img.
func drawRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
		image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e, u, image.Point{}, draw.Src)
	}
}

// ServeHTTP writes the overlay as a PNG.
func (fr *FrameRenderer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	img := fr.Image()
	if img == nil {
		writeJSONError(w, http.StatusNotFound, "no frame rendered yet")
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
