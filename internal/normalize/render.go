package normalize

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/image/draw"

	"github.com/roach88/qbar/internal/scan"
)

const (
	// RenderScale is the integer upscale applied to the rendered matrix.
	RenderScale = 3

	// linearHeight is the bar height in modules before scaling.
	linearHeight = 32
)

// ErrEmptyPayload is returned when asked to render an empty payload.
var ErrEmptyPayload = errors.New("cannot render empty payload")

// RenderImage regenerates a printable code image for payload.
//
// QR payloads are rendered as QR codes; every other symbology is rendered as
// Code 128, which can carry any printable ASCII payload regardless of the
// format it was scanned from.
func RenderImage(payload string, sym scan.Symbology) (image.Image, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	var (
		matrix *gozxing.BitMatrix
		err    error
	)
	if sym == scan.QR {
		hints := map[gozxing.EncodeHintType]interface{}{
			gozxing.EncodeHintType_CHARACTER_SET: "UTF-8",
		}
		matrix, err = qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, 0, 0, hints)
	} else {
		matrix, err = oned.NewCode128Writer().Encode(payload, gozxing.BarcodeFormat_CODE_128, 0, linearHeight, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", sym, err)
	}

	return upscale(matrix, RenderScale), nil
}

// upscale enlarges src by an integer factor without smoothing so module
// edges stay sharp.
func upscale(src image.Image, factor int) image.Image {
	b := src.Bounds()
	// The scaler cannot sample a BitMatrix directly; go through a Gray copy.
	gray := image.NewGray(b)
	draw.Draw(gray, b, src, b.Min, draw.Src)

	dst := image.NewGray(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), gray, b, draw.Src, nil)
	return dst
}
