// Package imaging shrinks images before they are sent for inference.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"

	"github.com/disintegration/gift"
	"github.com/dustin/go-humanize"

	"github.com/example/oralscan/internal/intake"
)

// JPEGQuality is used when a resized image is re-encoded as JPEG.
const JPEGQuality = 90

// Downscale resizes img so that its longest side is at most maxDim pixels.
// The original is returned when maxDim is 0, when it already fits, or when its
// format has no registered decoder (webp). PNG stays PNG; everything else is
// re-encoded as JPEG. Images above intake.MaxPixels are refused before decoding.
func Downscale(img *intake.Image, maxDim int) (*intake.Image, error) {
	if maxDim <= 0 {
		return img, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return img, nil
	}
	if cfg.Width <= maxDim && cfg.Height <= maxDim {
		return img, nil
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > intake.MaxPixels {
		return nil, fmt.Errorf("image of %s pixels exceeds the decode budget", humanize.Comma(pixels))
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var resize gift.Filter
	if cfg.Width >= cfg.Height {
		resize = gift.Resize(maxDim, 0, gift.LanczosResampling)
	} else {
		resize = gift.Resize(0, maxDim, gift.LanczosResampling)
	}
	g := gift.New(resize)
	dst := image.NewRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)

	var buf bytes.Buffer
	mimeType := "image/jpeg"
	if img.MIMEType == "image/png" {
		mimeType = "image/png"
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	return &intake.Image{Data: buf.Bytes(), MIMEType: mimeType, Filename: img.Filename}, nil
}
