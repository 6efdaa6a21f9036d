package hellodalle

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	// webp avatars are common on Discord
	_ "golang.org/x/image/webp"
)

const watermarkWidth = 200

// downloadImage fetches url and writes the body to path.
func downloadImage(
	ctx context.Context,
	client *http.Client,
	url string,
	path string,
) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error downloading %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error downloading %s: status %d", url, resp.StatusCode)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		if !os.IsExist(err) {
			return err
		}
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()
	_, err = io.Copy(out, resp.Body)
	return err
}

// localizeResult turns a GenerationResult into a local file path,
// downloading remote results into tempDir.
func localizeResult(
	ctx context.Context,
	client *http.Client,
	result GenerationResult,
	tempDir string,
	filename string,
) (string, error) {
	switch result.Kind {
	case ResultLocal:
		return result.Path, nil
	case ResultRemote:
		path := filepath.Join(tempDir, filename)
		if err := downloadImage(ctx, client, result.URL, path); err != nil {
			return "", err
		}
		return path, nil
	default:
		return "", fmt.Errorf("unknown result kind: %q", result.Kind)
	}
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}
	return img, nil
}

// addWatermark composites the watermark image onto the bottom-right
// corner of the image at imagePath, writing the result to outPath.
// The watermark is scaled to a fixed width, preserving aspect ratio.
func addWatermark(imagePath string, watermarkPath string, outPath string) error {
	base, err := decodeImageFile(imagePath)
	if err != nil {
		return err
	}
	mark, err := decodeImageFile(watermarkPath)
	if err != nil {
		return err
	}

	markBounds := mark.Bounds()
	scaledHeight := markBounds.Dy() * watermarkWidth / markBounds.Dx()
	scaledMark := image.NewRGBA(image.Rect(0, 0, watermarkWidth, scaledHeight))
	draw.CatmullRom.Scale(
		scaledMark,
		scaledMark.Bounds(),
		mark,
		markBounds,
		draw.Over,
		nil,
	)

	baseBounds := base.Bounds()
	out := image.NewRGBA(baseBounds)
	draw.Draw(out, baseBounds, base, baseBounds.Min, draw.Src)

	corner := image.Rect(
		baseBounds.Max.X-watermarkWidth,
		baseBounds.Max.Y-scaledHeight,
		baseBounds.Max.X,
		baseBounds.Max.Y,
	)
	draw.Draw(out, corner, scaledMark, image.Point{}, draw.Over)

	if err = os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		if !os.IsExist(err) {
			return err
		}
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return png.Encode(f, out)
}
