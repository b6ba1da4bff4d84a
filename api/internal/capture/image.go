package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // browsers may hand over PNG snapshots
	"net/http"
	"strings"
)

// JPEGQuality matches the default quality browsers use for canvas.toDataURL("image/jpeg").
const JPEGQuality = 92

var ErrEmptyImage = errors.New("empty image payload")

// Image is a single still snapshot taken from the camera feed.
type Image struct {
	MIMEType string
	Data     []byte
}

func (i Image) Empty() bool { return len(i.Data) == 0 }

// DataURL renders the image as data:<mime>;base64,<payload>.
func (i Image) DataURL() string {
	if i.Empty() {
		return ""
	}
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURL decodes a data: URI (or bare base64) into an Image.
// The MIME type comes from the URI prefix, otherwise it is sniffed from the bytes.
func ParseDataURL(s string) (Image, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		idx := strings.IndexByte(s, ',')
		if idx < 0 {
			return Image{}, fmt.Errorf("data url: missing payload separator")
		}
		meta := s[len("data:"):idx]
		if semi := strings.IndexByte(meta, ';'); semi >= 0 {
			hintMIME = meta[:semi]
		} else {
			hintMIME = meta
		}
		s = s[idx+1:]
	}
	if s == "" {
		return Image{}, ErrEmptyImage
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var err2 error
		if data, err2 = base64.URLEncoding.DecodeString(s); err2 != nil {
			return Image{}, fmt.Errorf("data url: bad base64: %w", err)
		}
	}
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	mime := strings.TrimSpace(hintMIME)
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return Image{MIMEType: mime, Data: data}, nil
}

// Decode turns the payload back into pixels.
func (i Image) Decode() (image.Image, error) {
	if i.Empty() {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(i.Data))
	return img, err
}

// EncodeJPEG compresses a frame into a lossy still.
func EncodeJPEG(frame image.Image) (Image, error) {
	if frame == nil || frame.Bounds().Empty() {
		return Image{}, ErrEmptyImage
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, frame, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return Image{}, err
	}
	return Image{MIMEType: "image/jpeg", Data: out.Bytes()}, nil
}
