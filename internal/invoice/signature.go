package invoice

import (
	"bytes"

	"github.com/garyjia/invoice-matcher/internal/domain/entity"
)

// minSignatureBytes is the shortest buffer that can hold every checked signature
const minSignatureBytes = 12

var (
	magicPDF  = []byte("%PDF")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicRIFF = []byte("RIFF")
	magicWEBP = []byte("WEBP")
)

// ValidateSignature reports whether data starts with the magic bytes of the
// declared media type. Unknown media types never validate.
func ValidateSignature(data []byte, mediaType string) bool {
	if len(data) < minSignatureBytes {
		return false
	}

	switch mediaType {
	case entity.MediaTypePDF:
		return bytes.HasPrefix(data, magicPDF)
	case entity.MediaTypeJPEG:
		return bytes.HasPrefix(data, magicJPEG)
	case entity.MediaTypePNG:
		return bytes.HasPrefix(data, magicPNG)
	case entity.MediaTypeWebP:
		return bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWEBP)
	default:
		return false
	}
}
