package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLogoType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		filename    string
		want        bool
	}{
		{"png by type", "image/png", "logo", true},
		{"jpeg with params", "image/jpeg; charset=binary", "logo.bin", true},
		{"webp by extension", "", "brand.WEBP", true},
		{"gif rejected", "image/gif", "logo.gif", false},
		{"svg rejected", "image/svg+xml", "logo.svg", false},
		{"pdf rejected", "application/pdf", "logo.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateLogoType(tt.contentType, tt.filename))
		})
	}
}

func TestLogoContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", LogoContentType("image/jpg", "a.jpg"))
	assert.Equal(t, "image/webp", LogoContentType("", "a.webp"))
	assert.Equal(t, "image/png", LogoContentType("IMAGE/PNG", "a"))
	assert.Equal(t, "application/octet-stream", LogoContentType("", "a"))
}

func TestLogoKey(t *testing.T) {
	key := LogoKey("t-1", "image/png")
	assert.True(t, strings.HasPrefix(key, "logos/t-1/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.NotEqual(t, key, LogoKey("t-1", "image/png"))
}
