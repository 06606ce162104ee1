package services

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// UploadField is the multipart field carrying garment photos.
const UploadField = "images"

var allowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
	"image/gif":  true,
}

type UploadItem struct {
	Filename     string
	DeclaredType string
	DetectedType string
	Size         int64
	Data         []byte
}

// DataURL renders the item as an inline data URL for multimodal prompts.
func (u UploadItem) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", u.MIMEType(), base64.StdEncoding.EncodeToString(u.Data))
}

// MIMEType prefers the sniffed image type and falls back to image/jpeg.
func (u UploadItem) MIMEType() string {
	if strings.HasPrefix(u.DetectedType, "image/") {
		return u.DetectedType
	}
	return "image/jpeg"
}

// UploadBatch holds the uploaded images of one request, in arrival order.
type UploadBatch struct {
	Items []UploadItem
}

func (b UploadBatch) Len() int { return len(b.Items) }

// Base64 returns every buffer base64 encoded, index aligned with Items.
func (b UploadBatch) Base64() []string {
	out := make([]string, len(b.Items))
	for i, item := range b.Items {
		out[i] = base64.StdEncoding.EncodeToString(item.Data)
	}
	return out
}

type IntakeOptions struct {
	Validate     bool
	MaxFileBytes int64
	MaxFiles     int
	Normalize    bool
	MaxDimension int
}

func ReadUploadBatch(form *multipart.Form, opts IntakeOptions) (UploadBatch, error) {
	if form == nil || len(form.File[UploadField]) == 0 {
		return UploadBatch{}, NoImagesError{}
	}
	headers := form.File[UploadField]
	if opts.Validate && opts.MaxFiles > 0 && len(headers) > opts.MaxFiles {
		return UploadBatch{}, &InvalidUploadError{Reason: fmt.Sprintf("at most %d images are allowed", opts.MaxFiles)}
	}

	batch := UploadBatch{Items: make([]UploadItem, 0, len(headers))}
	for _, fh := range headers {
		item, err := readUploadItem(fh)
		if err != nil {
			return UploadBatch{}, err
		}
		if opts.Validate {
			if opts.MaxFileBytes > 0 && item.Size > opts.MaxFileBytes {
				return UploadBatch{}, &InvalidUploadError{Filename: item.Filename, Reason: "file is too large"}
			}
			if !allowedUploadTypes[item.DetectedType] {
				return UploadBatch{}, &InvalidUploadError{Filename: item.Filename, Reason: "unsupported file type " + item.DetectedType}
			}
		}
		if opts.Normalize {
			normalized, err := NormalizeImage(item.Data, opts.MaxDimension)
			if err != nil {
				log.Warn().Err(err).Str("filename", item.Filename).Msg("upload kept as-is, normalisation failed")
			} else {
				item.Data = normalized
				item.Size = int64(len(normalized))
				item.DetectedType = "image/jpeg"
			}
		}
		batch.Items = append(batch.Items, item)
	}
	return batch, nil
}

func readUploadItem(fh *multipart.FileHeader) (UploadItem, error) {
	f, err := fh.Open()
	if err != nil {
		return UploadItem{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return UploadItem{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return UploadItem{
		Filename:     fh.Filename,
		DeclaredType: fh.Header.Get("Content-Type"),
		DetectedType: http.DetectContentType(data),
		Size:         int64(len(data)),
		Data:         data,
	}, nil
}
