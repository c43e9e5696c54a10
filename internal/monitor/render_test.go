package monitor

import (
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/yawtrack/internal/mode"
	"github.com/banshee-data/yawtrack/internal/testutil"
)

func TestFrameRenderer_Overlay(t *testing.T) {
	t.Parallel()

	fr := &FrameRenderer{}
	assert.Nil(t, fr.Image())

	fr.Render(mode.Frame{Seq: 1, Width: 100, Height: 50}, mode.FrameResult{
		Mode:   mode.Track,
		Region: mode.Region{X: 10, Y: 10, W: 20, H: 20},
		Found:  true,
	})
	img := fr.Image()
	require.NotNil(t, img)
	assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())
	assert.Equal(t, colorTracked, img.RGBAAt(10, 15), "left edge of the tracked box")
	assert.Equal(t, colorBackground, img.RGBAAt(20, 20), "inside the box is untouched")
	assert.Equal(t, colorCentre, img.RGBAAt(50, 0))

	fr.Render(mode.Frame{Seq: 2, Width: 100, Height: 50}, mode.FrameResult{
		Mode:     mode.Track,
		Region:   mode.Region{X: 10, Y: 10, W: 20, H: 20},
		Degraded: true,
	})
	assert.Equal(t, colorLost, fr.Image().RGBAAt(10, 15))
}

func TestFrameRenderer_UsesPixels(t *testing.T) {
	t.Parallel()

	src := image.NewUniform(color.RGBA{R: 1, G: 2, B: 3, A: 255})
	pixels := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			pixels.Set(x, y, src.C)
		}
	}

	fr := &FrameRenderer{}
	fr.Render(mode.Frame{Seq: 1, Width: 8, Height: 8, Pixels: pixels}, mode.FrameResult{
		Mode:       mode.Detect,
		Detections: []mode.Detection{{Region: mode.Region{X: 0, Y: 0, W: 3, H: 3}}},
	})
	img := fr.Image()
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, img.RGBAAt(1, 1))
	assert.Equal(t, colorDetection, img.RGBAAt(0, 0))
}

func TestFrameRoute(t *testing.T) {
	t.Parallel()

	s, _, mux := newTestServer(t)

	rec := serve(mux, testutil.NewLocalRequest(http.MethodGet, "/debug/yawtrack/frame.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.Frames.Render(mode.Frame{Width: 32, Height: 24}, mode.FrameResult{})
	rec = serve(mux, testutil.NewLocalRequest(http.MethodGet, "/debug/yawtrack/frame.png", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}
