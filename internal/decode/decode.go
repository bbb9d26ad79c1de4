// Package decode finds machine-readable codes in still images.
//
// A Decoder runs one gozxing reader per allowed symbology against the same
// binarized bitmap and collects every hit. It is stateless after
// construction and safe for concurrent use: readers are created per call.
package decode

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
)

// readerFactories maps the symbologies gozxing can read to a reader
// constructor. Matrix formats other than QR have no reader and are skipped.
var readerFactories = map[scan.Symbology]func() gozxing.Reader{
	scan.QR:      func() gozxing.Reader { return qrcode.NewQRCodeReader() },
	scan.EAN13:   func() gozxing.Reader { return oned.NewEAN13Reader() },
	scan.EAN8:    func() gozxing.Reader { return oned.NewEAN8Reader() },
	scan.UPCA:    func() gozxing.Reader { return oned.NewUPCAReader() },
	scan.UPCE:    func() gozxing.Reader { return oned.NewUPCEReader() },
	scan.Code39:  func() gozxing.Reader { return oned.NewCode39Reader() },
	scan.Code128: func() gozxing.Reader { return oned.NewCode128Reader() },
	scan.ITF:     func() gozxing.Reader { return oned.NewITFReader() },
}

var formatToSymbology = map[gozxing.BarcodeFormat]scan.Symbology{
	gozxing.BarcodeFormat_QR_CODE:  scan.QR,
	gozxing.BarcodeFormat_EAN_13:   scan.EAN13,
	gozxing.BarcodeFormat_EAN_8:    scan.EAN8,
	gozxing.BarcodeFormat_UPC_A:    scan.UPCA,
	gozxing.BarcodeFormat_UPC_E:    scan.UPCE,
	gozxing.BarcodeFormat_CODE_39:  scan.Code39,
	gozxing.BarcodeFormat_CODE_93:  scan.Code93,
	gozxing.BarcodeFormat_CODE_128: scan.Code128,
	gozxing.BarcodeFormat_ITF:      scan.ITF,
	gozxing.BarcodeFormat_CODABAR:  scan.Codabar,
}

// Supported reports whether the decoder has a reader for sym.
func Supported(sym scan.Symbology) bool {
	_, ok := readerFactories[sym]
	return ok
}

// Decoder decodes still images restricted to a symbology filter.
type Decoder struct {
	filter scan.Filter
	order  []scan.Symbology
}

// New creates a decoder for the symbologies in filter.
func New(filter scan.Filter) *Decoder {
	d := &Decoder{filter: filter}
	for _, sym := range scan.AllSymbologies {
		if filter.Allows(sym) && Supported(sym) {
			d.order = append(d.order, sym)
		}
	}
	return d
}

// Symbologies returns the symbologies this decoder will actually try, in
// the order readers run.
func (d *Decoder) Symbologies() []scan.Symbology {
	out := make([]scan.Symbology, len(d.order))
	copy(out, d.order)
	return out
}

// Decode returns every code found in img, in reader order, without
// duplicates. Finding nothing is not an error: the result is empty.
func (d *Decoder) Decode(ctx context.Context, img image.Image) ([]scan.RawCode, error) {
	if img == nil {
		return nil, errors.New("decode: nil image")
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("decode: binarize: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	var (
		codes []scan.RawCode
		seen  = make(map[string]struct{})
	)
	for _, sym := range d.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := readerFactories[sym]().Decode(bmp, hints)
		if err != nil || result == nil {
			continue
		}

		got, ok := formatToSymbology[result.GetBarcodeFormat()]
		if !ok || !d.filter.Allows(got) {
			continue
		}
		raw := scan.RawCode{Payload: result.GetText(), Symbology: got}
		if raw.Payload == "" {
			continue
		}

		// A UPC-A code is also read by the EAN-13 reader with a leading
		// zero. Both normalize to the same code, so keep only the first.
		payload, norm := normalize.Normalize(raw.Payload, raw.Symbology)
		key := string(norm) + "\x00" + payload
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		codes = append(codes, raw)
	}

	return codes, nil
}
