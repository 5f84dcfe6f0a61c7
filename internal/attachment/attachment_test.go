package attachment

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadSniffsType(t *testing.T) {
	f, err := Read("notes.txt", "", strings.NewReader("plain notes about transformers"))
	require.NoError(t, err)
	require.Equal(t, "text/plain", f.MIMEType)

	text, err := f.Text()
	require.NoError(t, err)
	require.Equal(t, "plain notes about transformers", text)
	require.Len(t, f.Digest(), 64)
}

func TestReadRejectsEmpty(t *testing.T) {
	_, err := Read("empty.pdf", MIMEPDF, strings.NewReader(""))
	require.Error(t, err)
}

func TestTextUnsupported(t *testing.T) {
	f := &File{Name: "img.png", MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
	_, err := f.Text()
	require.True(t, errors.Is(err, ErrUnsupportedType))
}

func TestTextCorruptPDF(t *testing.T) {
	f := &File{Name: "paper.pdf", MIMEType: MIMEPDF, Data: []byte("not really a pdf")}
	_, err := f.Text()
	require.Error(t, err)
}

func TestTextBlankDocument(t *testing.T) {
	f := &File{Name: "blank.txt", MIMEType: "text/plain", Data: []byte("\x00\x01  ")}
	_, err := f.Text()
	require.ErrorIs(t, err, ErrNoExtractableText)
}
