// Package imageio loads still images for decoding from arbitrary bytes.
// The container format is sniffed from content, never from file names.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// MaxBytes caps how much of an input is read.
const MaxBytes = 64 << 20

var (
	// ErrEmpty is returned for zero-length input.
	ErrEmpty = errors.New("image is empty")

	// ErrUnsupportedFormat is returned when the content is not a known image
	// or document type.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrTooLarge is returned when input exceeds MaxBytes.
	ErrTooLarge = errors.New("image exceeds size limit")
)

// Load reads r fully and decodes it into an image. JPEG, PNG, GIF, BMP,
// TIFF, WebP and HEIC/HEIF are decoded directly. For PDF documents the first
// page is rasterized.
func Load(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return Decode(data)
}

// LoadFile opens and decodes the file at path. Permission errors are
// returned wrapped so callers can test them with errors.Is(err, os.ErrPermission).
func LoadFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode decodes an in-memory image.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxBytes {
		return nil, ErrTooLarge
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		return decodePDF(data)
	case mt.Is("image/heic"), mt.Is("image/heif"),
		mt.Is("image/heic-sequence"), mt.Is("image/heif-sequence"):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
		}
		return nil, fmt.Errorf("decoding %s: %w", mt.String(), err)
	}
	return img, nil
}

// decodePDF rasterizes the first page of a PDF document.
func decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("opening PDF: %w", ErrEmpty)
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// MIME returns the sniffed content type of data, for diagnostics.
func MIME(data []byte) string {
	return mimetype.Detect(data).String()
}
