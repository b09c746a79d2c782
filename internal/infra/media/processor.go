package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	"github.com/vincent-petithory/dataurl"

	"zapgate/internal/domain/whatsapp"
	"zapgate/pkg/logger"
)

// Limites de processamento
const (
	MaxMediaSize     = 64 * 1024 * 1024 // 64MB
	MinStickerSize   = 1024             // WhatsApp rejeita stickers muito pequenos
	MaxStickerSize   = 5 * 1024 * 1024
	ThumbnailMaxSide = 72 // pixels
	StickerSide      = 512
	JPEGQuality      = 90
	downloadTimeout  = 30 * time.Second
)

// Processor prepara payloads de mídia para envio: decodifica data
// URLs ou baixa URLs HTTP, infere o tipo pelo MIME, gera thumbnail
// JPEG para imagens e converte stickers para WEBP 512x512.
type Processor struct {
	logger logger.Logger
	http   *http.Client
}

// NewProcessor cria um novo processador de mídia
func NewProcessor(log logger.Logger) *Processor {
	return &Processor{
		logger: log.WithComponent("media-processor"),
		http:   &http.Client{Timeout: downloadTimeout},
	}
}

// Prepare resolve a origem da mídia e monta o payload pronto para o
// cliente. source aceita data URL (data:...;base64,...) ou URL HTTP.
func (p *Processor) Prepare(ctx context.Context, source, mimeType, fileName, caption string) (whatsapp.Media, error) {
	data, detectedMime, err := p.resolve(ctx, source)
	if err != nil {
		return whatsapp.Media{}, err
	}

	if len(data) == 0 {
		return whatsapp.Media{}, fmt.Errorf("no media data found in payload")
	}
	if len(data) > MaxMediaSize {
		return whatsapp.Media{}, whatsapp.ErrMediaTooLarge
	}

	if mimeType == "" {
		mimeType = detectedMime
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	kind := kindFromMime(mimeType)

	media := whatsapp.Media{
		Kind:     kind,
		Data:     data,
		Mime:     mimeType,
		FileName: fileName,
		Caption:  caption,
	}

	switch kind {
	case whatsapp.MediaImage:
		media.Thumbnail = p.thumbnail(data)
	case whatsapp.MediaSticker:
		converted, err := p.toStickerFormat(data)
		if err != nil {
			p.logger.WithError(err).Warn().Msg("Failed to convert sticker to WEBP, using original data")
		} else {
			media.Data = converted
			media.Mime = "image/webp"
		}
		if len(media.Data) < MinStickerSize || len(media.Data) > MaxStickerSize {
			return whatsapp.Media{}, fmt.Errorf("sticker size out of bounds (min %d, max %d bytes)", MinStickerSize, MaxStickerSize)
		}
	}

	p.logger.WithFields(map[string]any{
		"kind": string(media.Kind),
		"mime": media.Mime,
		"size": len(media.Data),
	}).Debug().Msg("Media prepared")

	return media, nil
}

// resolve obtém os bytes da mídia a partir da origem
func (p *Processor) resolve(ctx context.Context, source string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(source, "data:"):
		return p.decodeDataURL(source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return p.download(ctx, source)
	default:
		return nil, "", fmt.Errorf("media source must be a data URL or an HTTP(S) URL")
	}
}

// decodeDataURL decodifica um payload base64 no formato data URL
func (p *Processor) decodeDataURL(source string) ([]byte, string, error) {
	dataURL, err := dataurl.DecodeString(source)
	if err != nil {
		return nil, "", fmt.Errorf("could not decode base64 encoded data from payload: %w", err)
	}
	return dataURL.Data, dataURL.ContentType(), nil
}

// download baixa a mídia de uma URL HTTP
func (p *Processor) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download media: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media data: %w", err)
	}
	if len(data) > MaxMediaSize {
		return nil, "", whatsapp.ErrMediaTooLarge
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// kindFromMime infere o tipo de mídia pelo MIME type
func kindFromMime(mimeType string) whatsapp.MediaKind {
	base := mimeType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimSpace(strings.ToLower(base))

	switch {
	case base == "image/webp":
		return whatsapp.MediaSticker
	case strings.HasPrefix(base, "image/"):
		return whatsapp.MediaImage
	case strings.HasPrefix(base, "video/"):
		return whatsapp.MediaVideo
	case strings.HasPrefix(base, "audio/"):
		return whatsapp.MediaAudio
	default:
		return whatsapp.MediaDocument
	}
}

// thumbnail gera uma miniatura JPEG; falhas são toleradas porque a
// mensagem segue sem thumbnail
func (p *Processor) thumbnail(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		p.logger.WithError(err).Debug().Msg("Failed to decode image for thumbnail")
		return nil
	}

	small := resize.Thumbnail(ThumbnailMaxSide, ThumbnailMaxSide, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, small, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		p.logger.WithError(err).Debug().Msg("Failed to encode thumbnail")
		return nil
	}
	return buf.Bytes()
}

// toStickerFormat converte a imagem para WEBP 512x512
func (p *Processor) toStickerFormat(data []byte) ([]byte, error) {
	contentType := http.DetectContentType(data)
	if contentType == "image/webp" {
		return data, nil
	}

	var img image.Image
	var err error

	reader := bytes.NewReader(data)
	switch contentType {
	case "image/png":
		img, err = png.Decode(reader)
	case "image/jpeg":
		img, err = jpeg.Decode(reader)
	default:
		img, err = png.Decode(reader)
		if err != nil {
			reader.Seek(0, io.SeekStart)
			img, err = jpeg.Decode(reader)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode sticker image: %w", err)
	}

	resized := resize.Resize(StickerSide, StickerSide, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, &webp.Options{Lossless: false, Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode WEBP: %w", err)
	}
	return buf.Bytes(), nil
}
