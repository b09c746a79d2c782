package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/whatsapp"
	"zapgate/pkg/logger"
)

func encodeTestImage(t *testing.T, format string, side int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for x := 0; x < side; x++ {
		for y := 0; y < side; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	default:
		require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	}
	return buf.Bytes()
}

func asDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestPrepareDecodesDataURLImage(t *testing.T) {
	p := NewProcessor(logger.Nop())

	raw := encodeTestImage(t, "jpeg", 200)
	media, err := p.Prepare(context.Background(), asDataURL("image/jpeg", raw), "", "", "legenda")
	require.NoError(t, err)

	assert.Equal(t, whatsapp.MediaImage, media.Kind)
	assert.Equal(t, "image/jpeg", media.Mime)
	assert.Equal(t, raw, media.Data)
	assert.Equal(t, "legenda", media.Caption)
	assert.NotEmpty(t, media.Thumbnail, "imagem deve ganhar thumbnail JPEG")
}

func TestPrepareRejectsUnknownSource(t *testing.T) {
	p := NewProcessor(logger.Nop())

	_, err := p.Prepare(context.Background(), "ftp://example.com/file.jpg", "", "", "")
	assert.Error(t, err)

	_, err = p.Prepare(context.Background(), "not-a-url", "", "", "")
	assert.Error(t, err)
}

func TestPrepareRejectsInvalidBase64(t *testing.T) {
	p := NewProcessor(logger.Nop())

	_, err := p.Prepare(context.Background(), "data:image/jpeg;base64,!!!not-base64!!!", "", "", "")
	assert.Error(t, err)
}

func TestKindFromMime(t *testing.T) {
	tests := []struct {
		mime string
		want whatsapp.MediaKind
	}{
		{"image/jpeg", whatsapp.MediaImage},
		{"image/png", whatsapp.MediaImage},
		{"image/webp", whatsapp.MediaSticker},
		{"video/mp4", whatsapp.MediaVideo},
		{"audio/ogg; codecs=opus", whatsapp.MediaAudio},
		{"application/pdf", whatsapp.MediaDocument},
		{"text/plain", whatsapp.MediaDocument},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, kindFromMime(tt.mime), tt.mime)
	}
}

func TestPrepareDocumentKeepsFileName(t *testing.T) {
	p := NewProcessor(logger.Nop())

	data := bytes.Repeat([]byte("conteudo "), 300)
	media, err := p.Prepare(context.Background(), asDataURL("application/pdf", data), "", "relatorio.pdf", "")
	require.NoError(t, err)

	assert.Equal(t, whatsapp.MediaDocument, media.Kind)
	assert.Equal(t, "relatorio.pdf", media.FileName)
	assert.Empty(t, media.Thumbnail)
}

func TestPrepareConvertsStickerToWebp(t *testing.T) {
	p := NewProcessor(logger.Nop())

	raw := encodeTestImage(t, "png", 300)
	media, err := p.Prepare(context.Background(), asDataURL("image/png", raw), "image/webp", "", "")
	require.NoError(t, err)

	assert.Equal(t, whatsapp.MediaSticker, media.Kind)
	assert.Equal(t, "image/webp", media.Mime)
	assert.NotEqual(t, raw, media.Data, "sticker deve ser reencodado em WEBP")
}

func TestPrepareExplicitMimeOverridesDetection(t *testing.T) {
	p := NewProcessor(logger.Nop())

	data := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 512)
	media, err := p.Prepare(context.Background(), asDataURL("application/octet-stream", data), "video/mp4", "clip.mp4", "")
	require.NoError(t, err)

	assert.Equal(t, whatsapp.MediaVideo, media.Kind)
	assert.Equal(t, "video/mp4", media.Mime)
}
