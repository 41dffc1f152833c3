package invoice

import (
	"testing"

	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/stretchr/testify/assert"
)

func pad(prefix []byte) []byte {
	out := make([]byte, 16)
	copy(out, prefix)
	return out
}

func TestValidateSignature(t *testing.T) {
	webp := pad([]byte("RIFF"))
	copy(webp[8:], "WEBP")

	riffNotWebP := pad([]byte("RIFF"))
	copy(riffNotWebP[8:], "WAVE")

	tests := []struct {
		name      string
		data      []byte
		mediaType string
		want      bool
	}{
		{"pdf", pad([]byte("%PDF-1.7")), entity.MediaTypePDF, true},
		{"jpeg", pad([]byte{0xFF, 0xD8, 0xFF, 0xE0}), entity.MediaTypeJPEG, true},
		{"png", pad([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}), entity.MediaTypePNG, true},
		{"webp", webp, entity.MediaTypeWebP, true},
		{"riff without webp marker", riffNotWebP, entity.MediaTypeWebP, false},
		{"text declared as pdf", pad([]byte("hello world!")), entity.MediaTypePDF, false},
		{"pdf declared as png", pad([]byte("%PDF-1.4")), entity.MediaTypePNG, false},
		{"jpeg declared as pdf", pad([]byte{0xFF, 0xD8, 0xFF}), entity.MediaTypePDF, false},
		{"too short", []byte("%PDF-1.4"), entity.MediaTypePDF, false},
		{"eleven bytes", []byte("%PDF-1.4abc"), entity.MediaTypePDF, false},
		{"exactly twelve bytes", []byte("%PDF-1.4abcd"), entity.MediaTypePDF, true},
		{"empty", nil, entity.MediaTypePDF, false},
		{"unknown type", pad([]byte("%PDF")), "image/gif", false},
		{"empty type", pad([]byte("%PDF")), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateSignature(tt.data, tt.mediaType))
		})
	}
}
