package extraction

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoImage is returned when a scan request carries no image data.
	ErrNoImage = errors.New("no image provided")
	// ErrInvalidImage is returned when image data is not valid base64.
	ErrInvalidImage = errors.New("invalid image encoding")
)

var dataURLPrefix = regexp.MustCompile(`^data:image/([a-z]+);base64,`)

// Image is a decoded prescription photo.
type Image struct {
	Data   []byte
	Format string // jpeg, png, webp ...
}

// DecodeImage decodes a base64 image, with or without a data URL prefix.
// Images without a prefix are assumed to be JPEG.
func DecodeImage(encoded string) (*Image, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrNoImage
	}

	format := "jpeg"
	if m := dataURLPrefix.FindStringSubmatch(encoded); m != nil {
		format = m[1]
		encoded = encoded[len(m[0]):]
	}
	if format == "jpg" {
		format = "jpeg"
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	return &Image{Data: data, Format: format}, nil
}

// Digest returns the hex sha256 of the image bytes.
func (i *Image) Digest() string {
	sum := sha256.Sum256(i.Data)
	return hex.EncodeToString(sum[:])
}
