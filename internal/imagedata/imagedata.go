// Package imagedata converts between uploaded files, data URIs and the PNG
// export offered for download.
package imagedata

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DownloadName is the file name used for every exported result.
const DownloadName = "pastelflow-edit.png"

const fallbackMime = "image/jpeg"

var (
	ErrEmpty    = errors.New("image is empty")
	ErrTooLarge = errors.New("image is too large")
	ErrNotImage = errors.New("file is not an image")
)

type Upload struct {
	DataURL  string
	MimeType string
	Size     int
	// Width and Height are zero when the format could not be decoded.
	Width  int
	Height int
}

// ReadUpload reads at most limit bytes from r and encodes them as a data URI.
// declared is the client supplied content type and may be empty.
func ReadUpload(r io.Reader, declared string, limit int64) (Upload, error) {
	if limit <= 0 {
		limit = 20 << 20
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return Upload{}, ErrEmpty
	}
	if int64(len(data)) > limit {
		return Upload{}, ErrTooLarge
	}

	mimeType := DetectMime(declared, data)
	if !strings.HasPrefix(mimeType, "image/") {
		return Upload{}, ErrNotImage
	}

	up := Upload{
		DataURL:  FormatDataURL(mimeType, data),
		MimeType: mimeType,
		Size:     len(data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		up.Width, up.Height = cfg.Width, cfg.Height
	}
	return up, nil
}

// DetectMime sniffs the content. The declared type is only used when the
// bytes are not recognised.
func DetectMime(declared string, data []byte) string {
	mimeType := stripParams(http.DetectContentType(data))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = stripParams(declared)
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = fallbackMime
	}
	return mimeType
}

func FormatDataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// SplitDataURL returns the MIME type and the still encoded base64 body. A
// value without the data: prefix is taken to be bare base64.
func SplitDataURL(value string) (mimeType string, base64Data string, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", "", errors.New("empty data url")
	}

	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return fallbackMime, value, nil
	}

	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return "", "", errors.New("invalid data url")
	}

	meta := strings.TrimPrefix(parts[0], prefix)
	mimeType = strings.TrimSpace(strings.Split(meta, ";")[0])
	if mimeType == "" {
		mimeType = fallbackMime
	}
	return mimeType, parts[1], nil
}

func ParseDataURL(value string) (string, []byte, error) {
	mimeType, encoded, err := SplitDataURL(value)
	if err != nil {
		return "", nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	return mimeType, data, nil
}

// ExportPNG returns the image as PNG bytes. Formats that cannot be decoded
// are returned unchanged together with their own content type.
func ExportPNG(dataURL string) ([]byte, string, error) {
	mimeType, data, err := ParseDataURL(dataURL)
	if err != nil {
		return nil, "", err
	}
	if mimeType == "image/png" {
		return data, mimeType, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, mimeType, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

func stripParams(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return strings.ToLower(mimeType)
}
