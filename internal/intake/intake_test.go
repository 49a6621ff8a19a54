package intake

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLimit = 4096

var samples = map[string][]byte{
	"image/jpeg": append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...),
	"image/png":  append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...),
	"image/gif":  append([]byte("GIF89a"), make([]byte, 64)...),
	"image/webp": append([]byte("RIFF\x24\x00\x00\x00WEBPVP8 "), make([]byte, 64)...),
}

func multipartRequest(t *testing.T, build func(w *multipart.Writer)) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	build(writer)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analysis", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func addFile(t *testing.T, w *multipart.Writer, contentType string, payload []byte) {
	t.Helper()
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="mouth"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
}

func TestReadAcceptsAllowedTypes(t *testing.T) {
	for contentType, payload := range samples {
		t.Run(contentType, func(t *testing.T) {
			req := multipartRequest(t, func(w *multipart.Writer) { addFile(t, w, contentType, payload) })

			img, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
			require.NoError(t, err)
			assert.Equal(t, contentType, img.MIMEType)
			assert.Equal(t, payload, img.Data)
			assert.Equal(t, "mouth", img.Filename)
		})
	}
}

func TestReadRejectsDisallowedDeclaredType(t *testing.T) {
	req := multipartRequest(t, func(w *multipart.Writer) { addFile(t, w, "image/bmp", samples["image/png"]) })

	_, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.True(t, IsClientError(err))
}

func TestReadRejectsSpoofedContent(t *testing.T) {
	req := multipartRequest(t, func(w *multipart.Writer) { addFile(t, w, "image/png", []byte("plain text, not an image")) })

	_, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

// pngHeader returns a PNG signature and IHDR chunk declaring width x height.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth, grayscale

	chunk := append([]byte("IHDR"), ihdr...)
	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, uint32(len(ihdr)))
	out = append(out, chunk...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(chunk))
}

func TestReadRejectsOversizedFile(t *testing.T) {
	payload := append(bytes.Clone(samples["image/png"]), make([]byte, testLimit)...)
	req := multipartRequest(t, func(w *multipart.Writer) { addFile(t, w, "image/png", payload) })

	_, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.EqualError(t, err, "image exceeds the size limit of 4.0 KiB")
}

func TestReadRejectsExcessivePixelCount(t *testing.T) {
	req := multipartRequest(t, func(w *multipart.Writer) { addFile(t, w, "image/png", pngHeader(12000, 12000)) })

	_, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.True(t, IsClientError(err))
	assert.Contains(t, err.Error(), "12000x12000")
}

func TestReadAcceptsPixelCountWithinBudget(t *testing.T) {
	req := multipartRequest(t, func(w *multipart.Writer) { addFile(t, w, "image/png", pngHeader(4000, 3000)) })

	img, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
}

func TestReadRejectsBodyAboveHardCap(t *testing.T) {
	payload := append(bytes.Clone(samples["image/png"]), make([]byte, testLimit+multipartOverhead)...)
	req := multipartRequest(t, func(w *multipart.Writer) { addFile(t, w, "image/png", payload) })

	_, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	require.Error(t, err)
	assert.True(t, IsClientError(err))
}

func TestReadRequiresImageField(t *testing.T) {
	req := multipartRequest(t, func(w *multipart.Writer) {
		require.NoError(t, w.WriteField("note", "hello"))
	})

	_, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestReadRejectsNonMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/analysis", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	_, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestReadRejectsMultipleFiles(t *testing.T) {
	req := multipartRequest(t, func(w *multipart.Writer) {
		addFile(t, w, "image/png", samples["image/png"])
		addFile(t, w, "image/gif", samples["image/gif"])
	})

	_, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrTooManyFiles)
}

func TestReadAcceptsCameraDataURL(t *testing.T) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(samples["image/jpeg"])
	req := multipartRequest(t, func(w *multipart.Writer) {
		require.NoError(t, w.WriteField(FieldName, dataURL))
	})

	img, err := NewReader(testLimit).Read(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.Equal(t, samples["image/jpeg"], img.Data)
}

func TestReadAcceptsCameraDataURLNearLimit(t *testing.T) {
	const limit = 4 << 20
	payload := append(bytes.Clone(samples["image/jpeg"]), make([]byte, limit-len(samples["image/jpeg"])-16)...)
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)
	require.Greater(t, len(dataURL), limit+multipartOverhead)

	req := multipartRequest(t, func(w *multipart.Writer) {
		require.NoError(t, w.WriteField(FieldName, dataURL))
	})

	img, err := NewReader(limit).Read(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Len(t, img.Data, len(payload))
}

func TestReadRejectsCameraDataURLAboveLimit(t *testing.T) {
	const limit = 4 << 20
	payload := append(bytes.Clone(samples["image/jpeg"]), make([]byte, limit)...)
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)
	req := multipartRequest(t, func(w *multipart.Writer) {
		require.NoError(t, w.WriteField(FieldName, dataURL))
	})

	_, err := NewReader(limit).Read(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFromDataURLValidation(t *testing.T) {
	reader := NewReader(testLimit)

	_, err := reader.FromDataURL("data:image/png," + "abc")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = reader.FromDataURL("data:text/plain;base64,aGVsbG8=")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = reader.FromDataURL("data:image/png;base64,!!!")
	assert.ErrorIs(t, err, ErrMalformed)

	big := base64.StdEncoding.EncodeToString(make([]byte, testLimit*2))
	_, err = reader.FromDataURL("data:image/png;base64," + big)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestReadRemovesTemporaryFiles(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	payload := append(bytes.Clone(samples["image/png"]), make([]byte, memoryThreshold)...)
	req := multipartRequest(t, func(w *multipart.Writer) { addFile(t, w, "image/png", payload) })

	_, err := NewReader(memoryThreshold*2).Read(httptest.NewRecorder(), req)
	require.NoError(t, err)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
