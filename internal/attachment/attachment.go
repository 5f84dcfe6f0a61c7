// Package attachment carries a user-supplied paper file through the request
// pipeline and turns it into text for back ends that only accept messages.
package attachment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"

	"paperlens/internal/util"
)

const MIMEPDF = "application/pdf"

var (
	ErrNoExtractableText = errors.New("no extractable text found in attachment")
	ErrUnsupportedType   = errors.New("unsupported attachment type")
)

// File is an uploaded document held in memory.
type File struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Read buffers r into a File, sniffing the type when mimeType is blank or generic.
func Read(name, mimeType string, r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read attachment %s: empty file", name)
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return &File{Name: name, MIMEType: mimeType, Data: data}, nil
}

func (f *File) Digest() string {
	if f == nil {
		return ""
	}
	sum := sha256.Sum256(f.Data)
	return hex.EncodeToString(sum[:])
}

func (f *File) IsPDF() bool {
	return f != nil && (f.MIMEType == MIMEPDF || strings.HasSuffix(strings.ToLower(f.Name), ".pdf"))
}

// Text returns the document's plain text. Plain-text uploads pass through.
func (f *File) Text() (string, error) {
	if f == nil {
		return "", ErrNoExtractableText
	}
	var text string
	switch {
	case f.IsPDF():
		t, err := extractPDF(f.Data)
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		text = t
	case strings.HasPrefix(f.MIMEType, "text/"):
		text = string(f.Data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, f.MIMEType)
	}
	text = util.CleanExtractedText(text)
	if text == "" {
		return "", ErrNoExtractableText
	}
	return text, nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, plain); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
