// Package intake accepts a single uploaded or camera-captured image.
package intake

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// FieldName is the form field carrying the image.
const FieldName = "image"

// multipartOverhead is allowed on top of the image limit for boundaries and headers.
const multipartOverhead = 1 << 20

// memoryThreshold is the part of a multipart body held in memory before spilling
// to temporary files.
const memoryThreshold = 4 << 20

// formValueAllowance is what net/http accepts in non-file form values on top of
// the memory threshold.
const formValueAllowance = 10 << 20

// dataURLPrefixBytes covers the "data:image/<type>;base64," header of a camera frame.
const dataURLPrefixBytes = 64

// MaxPixels bounds the decoded size of an image regardless of its encoded size.
const MaxPixels = 40_000_000

var (
	ErrNoFile          = errors.New("image file is required")
	ErrTooManyFiles    = errors.New("exactly one image file is allowed")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image exceeds the size limit")
	ErrMalformed       = errors.New("malformed image upload")
)

// AllowedTypes lists the accepted image MIME types.
var AllowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Image is a validated image payload.
type Image struct {
	Data     []byte
	MIMEType string
	Filename string
}

// DataURL encodes the image as a base64 data URL.
func (img *Image) DataURL() string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Reader validates image submissions against a size limit.
type Reader struct {
	maxBytes int64
}

// NewReader returns a Reader enforcing maxBytes on the decoded image.
func NewReader(maxBytes int64) *Reader {
	return &Reader{maxBytes: maxBytes}
}

// IsClientError reports whether err is an intake validation failure.
func IsClientError(err error) bool {
	for _, target := range []error{ErrNoFile, ErrTooManyFiles, ErrUnsupportedType, ErrTooLarge, ErrMalformed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Read extracts the image from a multipart form. The field may hold a file part or,
// for camera captures, a base64 data URL. Temporary files created while parsing
// are removed before Read returns.
func (r *Reader) Read(w http.ResponseWriter, req *http.Request) (*Image, error) {
	// A data URL carries the image base64 encoded, a third larger than the file.
	encodedLimit := int64(base64.StdEncoding.EncodedLen(int(r.maxBytes))) + dataURLPrefixBytes
	req.Body = http.MaxBytesReader(w, req.Body, encodedLimit+multipartOverhead)

	formMemory := int64(memoryThreshold)
	if need := encodedLimit + multipartOverhead - formValueAllowance; need > formMemory {
		formMemory = need
	}

	if err := req.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), errors.Is(err, multipart.ErrMessageTooLarge):
			return nil, r.tooLarge()
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			return nil, fmt.Errorf("%w: expected multipart/form-data", ErrNoFile)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	defer func() {
		_ = req.MultipartForm.RemoveAll()
	}()

	files := req.MultipartForm.File[FieldName]
	switch {
	case len(files) > 1:
		return nil, ErrTooManyFiles
	case len(files) == 1:
		return r.fromFile(files[0])
	}

	if values := req.MultipartForm.Value[FieldName]; len(values) == 1 && strings.HasPrefix(values[0], "data:") {
		return r.FromDataURL(values[0])
	} else if len(values) > 1 {
		return nil, ErrTooManyFiles
	}
	return nil, ErrNoFile
}

func (r *Reader) fromFile(fh *multipart.FileHeader) (*Image, error) {
	if fh.Size > r.maxBytes {
		return nil, r.tooLarge()
	}
	declared, err := normalizeType(fh.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r.validate(data, declared, fh.Filename)
}

// FromDataURL decodes a "data:image/<type>;base64,<payload>" camera frame.
func (r *Reader) FromDataURL(dataURL string) (*Image, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(dataURL, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: invalid data URL", ErrMalformed)
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return nil, fmt.Errorf("%w: data URL must be base64 encoded", ErrMalformed)
	}
	declared, err := normalizeType(mediaType)
	if err != nil {
		return nil, err
	}

	if int64(base64.StdEncoding.DecodedLen(len(payload))) > r.maxBytes+2 {
		return nil, r.tooLarge()
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload", ErrMalformed)
	}
	return r.validate(data, declared, "camera-capture")
}

func (r *Reader) validate(data []byte, declared, filename string) (*Image, error) {
	if int64(len(data)) > r.maxBytes {
		return nil, r.tooLarge()
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrNoFile)
	}

	detected := mimetype.Detect(data)
	sniffed := ""
	for _, allowed := range AllowedTypes {
		if detected.Is(allowed) {
			sniffed = allowed
			break
		}
	}
	if sniffed == "" {
		return nil, fmt.Errorf("%w: content is %s, declared %s", ErrUnsupportedType, detected.String(), declared)
	}

	// Formats without a registered decoder (webp) are not checked here.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
			return nil, fmt.Errorf("%w: %dx%d exceeds %s pixels", ErrTooLarge, cfg.Width, cfg.Height, humanize.Comma(MaxPixels))
		}
	}

	return &Image{
		Data:     bytes.Clone(data),
		MIMEType: sniffed,
		Filename: filename,
	}, nil
}

func (r *Reader) tooLarge() error {
	return fmt.Errorf("%w of %s", ErrTooLarge, humanize.IBytes(uint64(r.maxBytes)))
}

// normalizeType strips parameters from a declared media type and checks it
// against the allow-list.
func normalizeType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedType, raw, strings.Join(AllowedTypes, ", "))
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "image/jpg" {
		mediaType = "image/jpeg"
	}
	if !Allowed(mediaType) {
		return "", fmt.Errorf("%w: %s (allowed: %s)", ErrUnsupportedType, mediaType, strings.Join(AllowedTypes, ", "))
	}
	return mediaType, nil
}

// Allowed reports whether mediaType is in the allow-list.
func Allowed(mediaType string) bool {
	for _, allowed := range AllowedTypes {
		if mediaType == allowed {
			return true
		}
	}
	return false
}
