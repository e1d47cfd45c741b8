package embedding

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxImageSide = 1024
	DefaultJPEGQuality  = 95
)

// FitImage decodes data, scales it down to fit within maxSide×maxSide when
// either side is larger, flattens it to opaque RGB and re-encodes it as JPEG.
// Smaller images are re-encoded without scaling. Undecodable input is
// ErrInvalidInput.
func FitImage(data []byte, maxSide, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode image: %v", ErrInvalidInput, err)
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxImageSide
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	sb := src.Bounds()
	w, h := fitWithin(sb.Dx(), sb.Dy(), maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, xdraw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin keeps the aspect ratio; neither side drops below one pixel.
func fitWithin(w, h, maxSide int) (int, int) {
	if w <= maxSide && h <= maxSide {
		return w, h
	}
	if w >= h {
		nh := h * maxSide / w
		return maxSide, max(nh, 1)
	}
	nw := w * maxSide / h
	return max(nw, 1), maxSide
}
