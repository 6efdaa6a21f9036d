package hellodalle

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestPNG(t testing.TB, width int, height int, fill color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDownloadImage(t *testing.T) {
	t.Parallel()

	pngBytes := encodeTestPNG(t, 16, 16, color.RGBA{R: 255, A: 255})

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/missing.png" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_, _ = w.Write(pngBytes)
			},
		),
	)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "nested", "avatar.png")

	require.NoError(t, downloadImage(ctx, srv.Client(), srv.URL+"/avatar.png", dest))

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, written)

	err = downloadImage(
		ctx,
		srv.Client(),
		srv.URL+"/missing.png",
		filepath.Join(t.TempDir(), "missing.png"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestLocalizeResult(t *testing.T) {
	t.Parallel()

	pngBytes := encodeTestPNG(t, 16, 16, color.RGBA{G: 255, A: 255})
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(pngBytes)
			},
		),
	)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	tmpdir := t.TempDir()

	// Local results pass through untouched
	path, err := localizeResult(
		ctx,
		srv.Client(),
		GenerationResult{Kind: ResultLocal, Path: "/tmp/already-local.png"},
		tmpdir,
		"unused.png",
	)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/already-local.png", path)

	// Remote results are downloaded into tempDir
	path, err = localizeResult(
		ctx,
		srv.Client(),
		GenerationResult{Kind: ResultRemote, URL: srv.URL + "/img.png"},
		tmpdir,
		"downloaded.png",
	)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpdir, "downloaded.png"), path)
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, written)

	_, err = localizeResult(
		ctx,
		srv.Client(),
		GenerationResult{},
		tmpdir,
		"x.png",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown result kind")
}

func TestAddWatermark(t *testing.T) {
	t.Parallel()

	tmpdir := t.TempDir()

	basePath := filepath.Join(tmpdir, "base.png")
	require.NoError(
		t,
		os.WriteFile(
			basePath,
			encodeTestPNG(t, 1024, 1024, color.RGBA{B: 255, A: 255}),
			0644,
		),
	)

	markPath := filepath.Join(tmpdir, "mark.png")
	require.NoError(
		t,
		os.WriteFile(
			markPath,
			encodeTestPNG(t, 400, 100, color.RGBA{R: 255, G: 255, A: 255}),
			0644,
		),
	)

	outPath := filepath.Join(tmpdir, "out", "watermarked.png")
	require.NoError(t, addWatermark(basePath, markPath, outPath))

	out, err := decodeImageFile(outPath)
	require.NoError(t, err)
	bounds := out.Bounds()
	assert.Equal(t, 1024, bounds.Dx())
	assert.Equal(t, 1024, bounds.Dy())

	// Bottom-right corner now carries the scaled watermark, the
	// opposite corner is untouched base color
	r, g, b, _ := out.At(bounds.Max.X-10, bounds.Max.Y-10).RGBA()
	assert.NotEqual(t, uint32(0), r)
	assert.NotEqual(t, uint32(0), g)

	r, g, b, _ = out.At(bounds.Min.X+10, bounds.Min.Y+10).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(0), g)
	assert.NotEqual(t, uint32(0), b)
}

func TestAddWatermarkMissingInputs(t *testing.T) {
	t.Parallel()

	tmpdir := t.TempDir()
	basePath := filepath.Join(tmpdir, "base.png")
	require.NoError(
		t,
		os.WriteFile(
			basePath,
			encodeTestPNG(t, 64, 64, color.RGBA{A: 255}),
			0644,
		),
	)

	err := addWatermark(
		filepath.Join(tmpdir, "missing.png"),
		basePath,
		filepath.Join(tmpdir, "out.png"),
	)
	assert.Error(t, err)

	err = addWatermark(
		basePath,
		filepath.Join(tmpdir, "missing.png"),
		filepath.Join(tmpdir, "out.png"),
	)
	assert.Error(t, err)
}
