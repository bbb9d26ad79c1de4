package normalize

import (
	"image"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qbar/internal/scan"
)

func TestNormalize_EAN13LeadingZero(t *testing.T) {
	payloads := []string{"0123456789012", "0000000000000", "0036000291452"}

	for _, p := range payloads {
		got, sym := Normalize(p, scan.EAN13)
		assert.Equal(t, scan.UPCA, sym, "payload %s", p)
		assert.Equal(t, p[1:], got)
		assert.Len(t, got, 12)
	}
}

func TestNormalize_Unchanged(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		sym     scan.Symbology
	}{
		{"ean13 without zero", "4006381333931", scan.EAN13},
		{"qr with zero", "0abc", scan.QR},
		{"code128 with zero", "0123", scan.Code128},
		{"empty ean13", "", scan.EAN13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, sym := Normalize(tt.payload, tt.sym)
			assert.Equal(t, tt.payload, got)
			assert.Equal(t, tt.sym, sym)
		})
	}
}

func TestEvent_AppliesNormalization(t *testing.T) {
	ev := Event(scan.RawCode{Payload: "0123456789012", Symbology: scan.EAN13}, scan.SourceLive)

	assert.Equal(t, "123456789012", ev.Payload)
	assert.Equal(t, scan.UPCA, ev.Symbology)
	assert.Equal(t, scan.SourceLive, ev.Source)
	assert.Nil(t, ev.Image)
}

func TestIsLikelyURL(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
	}{
		{"https://example.com", true},
		{"http://example.com/path?q=1", true},
		{"HTTPS://EXAMPLE.COM", true},
		{"  https://example.com  ", true},
		{"Visit https://example.com today", true},
		{"example.com", false},
		{"mailto:someone@example.com", false},
		{"https://", false},
		{"see https:// later", false},
		{"see https:// or https://example.com", true},
		{"4006381333931", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLikelyURL(tt.payload))
		})
	}
}

// readBack decodes a rendered preview with reader.
func readBack(t *testing.T, img image.Image, reader gozxing.Reader) string {
	t.Helper()
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	require.NoError(t, err)
	res, err := reader.Decode(bmp, map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	})
	require.NoError(t, err, "rendered image must decode")
	return res.GetText()
}

// inked reports whether img has both black and white pixels.
func inked(img image.Image) (black, white bool) {
	g, ok := img.(*image.Gray)
	if !ok {
		return false, false
	}
	for _, p := range g.Pix {
		switch p {
		case 0:
			black = true
		case 0xff:
			white = true
		}
	}
	return black, white
}

func TestRenderImage_QR(t *testing.T) {
	img, err := RenderImage("https://example.com/qbar", scan.QR)
	require.NoError(t, err)

	b := img.Bounds()
	assert.Equal(t, b.Dx(), b.Dy(), "QR codes are square")
	assert.Zero(t, b.Dx()%RenderScale, "width is a multiple of the scale")

	black, white := inked(img)
	assert.True(t, black && white, "preview has modules and a quiet zone")
	assert.Equal(t, "https://example.com/qbar", readBack(t, img, qrcode.NewQRCodeReader()))
}

func TestRenderImage_Linear(t *testing.T) {
	img, err := RenderImage("123456789012", scan.UPCA)
	require.NoError(t, err)

	b := img.Bounds()
	assert.Greater(t, b.Dx(), b.Dy(), "linear codes are wider than tall")
	assert.Equal(t, linearHeight*RenderScale, b.Dy())

	black, white := inked(img)
	assert.True(t, black && white)
	assert.Equal(t, "123456789012", readBack(t, img, oned.NewCode128Reader()))
}

func TestRenderImage_Empty(t *testing.T) {
	_, err := RenderImage("", scan.QR)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}
