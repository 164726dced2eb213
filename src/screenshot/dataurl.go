package screenshot

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const pngDataURLPrefix = "data:image/png;base64,"

// ErrInvalidImageData is returned for payloads that are neither a data URL nor base64.
var ErrInvalidImageData = errors.New("invalid image data format")

// EncodeDataURL wraps PNG bytes the way the extension stores and transports images.
func EncodeDataURL(pngBytes []byte) string {
	return pngDataURLPrefix + base64.StdEncoding.EncodeToString(pngBytes)
}

// DecodeDataURL returns the decoded payload of a base64 image data URL.
func DecodeDataURL(dataURL string) ([]byte, error) {
	if !strings.HasPrefix(dataURL, "data:image/") {
		return nil, fmt.Errorf("%w: missing data:image/ prefix", ErrInvalidImageData)
	}
	comma := strings.IndexByte(dataURL, ',')
	if comma < 0 || !strings.HasSuffix(dataURL[:comma], ";base64") {
		return nil, fmt.Errorf("%w: not a base64 data URL", ErrInvalidImageData)
	}
	data, err := base64.StdEncoding.DecodeString(dataURL[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageData, err)
	}
	return data, nil
}

// NormalizeImageData accepts a data URL as-is and wraps bare base64 as a PNG data URL.
func NormalizeImageData(imageData string) (string, error) {
	if imageData == "" {
		return "", fmt.Errorf("%w: no image data provided", ErrInvalidImageData)
	}
	if strings.HasPrefix(imageData, "data:image/") {
		return imageData, nil
	}
	if _, err := base64.StdEncoding.DecodeString(imageData); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImageData, err)
	}
	return pngDataURLPrefix + imageData, nil
}
