package validation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// allowedImageTypes are the sniffed media types accepted for uploads.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ImageType sniffs data and returns its media type, or an error when the
// upload is empty, too large or not a supported image. The declared
// Content-Type of the part is not trusted.
func ImageType(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("image is %d bytes, limit is %d", len(data), maxBytes)
	}
	mt := http.DetectContentType(data)
	if !allowedImageTypes[mt] {
		return "", fmt.Errorf("unsupported image type %s", mt)
	}
	return mt, nil
}

// DecodeImageData decodes a base64 image. A data URL prefix is stripped up
// to the first comma; padded and unpadded encodings are both accepted.
func DecodeImageData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, errors.New("data URL has no payload")
		}
		if !strings.HasSuffix(s[:i], ";base64") {
			return nil, errors.New("data URL is not base64 encoded")
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, errors.New("image is empty")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return data, nil
}
