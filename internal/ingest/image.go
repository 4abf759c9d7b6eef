// Package ingest turns uploaded problem photos into image payloads for the tutor.
package ingest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	ErrEmpty             = errors.New("image is empty")
	ErrTooLarge          = errors.New("image exceeds the size limit")
	ErrUnsupportedFormat = errors.New("image format not supported")
	ErrMalformed         = errors.New("image payload is malformed")
)

// Image is a validated upload.
type Image struct {
	Data     []byte
	MIMEType string
}

var allowedMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
	"image/heic": true,
	"image/heif": true,
}

var extensionMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
}

// IsSupported reports whether the tutor accepts images of this MIME type.
func IsSupported(mimeType string) bool {
	return allowedMimeTypes[strings.ToLower(mimeType)]
}

// FromReader reads up to limit bytes and detects the MIME type from magic bytes, falling back
// on the file extension for formats the sniffer does not know (HEIC).
func FromReader(r io.Reader, filename string, limit int64) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}

	mimeType := detectMimeType(data, filename)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
	return &Image{Data: data, MIMEType: mimeType}, nil
}

// FromBase64 decodes a bare base64 payload or a full data URI. A MIME type inside the data URI
// wins over the declared one.
func FromBase64(payload, mimeType string, limit int64) (*Image, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("%w: data URI is not base64", ErrMalformed)
		}
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		payload = body
	}
	if payload == "" {
		return nil, ErrEmpty
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > limit+2 {
		return nil, ErrTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}

	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = detectMimeType(data, "")
	}
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
	return &Image{Data: data, MIMEType: mimeType}, nil
}

// DataURI encodes an image as data:<mime>;base64,<payload>.
func DataURI(mimeType string, data []byte) string {
	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

func detectMimeType(data []byte, filename string) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	mimeType := http.DetectContentType(head)
	if IsSupported(mimeType) {
		return mimeType
	}
	if isHEIF(head) {
		return "image/heic"
	}
	if mimeType != "application/octet-stream" {
		return mimeType
	}
	if ext, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ext
	}
	return mimeType
}

// isHEIF checks for an ISO BMFF ftyp box with a HEIF brand.
func isHEIF(head []byte) bool {
	if len(head) < 12 || !bytes.Equal(head[4:8], []byte("ftyp")) {
		return false
	}
	switch string(head[8:12]) {
	case "heic", "heix", "hevc", "heim", "heis", "mif1", "msf1":
		return true
	}
	return false
}
