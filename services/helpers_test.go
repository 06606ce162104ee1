package services

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"
)

type testFile struct {
	name        string
	contentType string
	data        []byte
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartForm(t *testing.T, field string, files ...testFile) *multipart.Form {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("note", "ignored"))
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	return form
}

func uploadBatch(t *testing.T, n int) UploadBatch {
	t.Helper()
	batch := UploadBatch{}
	for i := 0; i < n; i++ {
		data := pngBytes(t, 4, 4)
		batch.Items = append(batch.Items, UploadItem{
			Filename:     "look.png",
			DeclaredType: "image/png",
			DetectedType: "image/png",
			Size:         int64(len(data)),
			Data:         data,
		})
	}
	return batch
}
