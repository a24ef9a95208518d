package payload

import (
	"encoding/json"
	"strings"

	"github.com/AzielCF/az-inbox/inbox/domain"
)

// Content is the variant extracted from a message payload.
type Content interface {
	Body() string
	Type() domain.MessageType
	Media() *domain.MediaRef
}

type TextContent struct {
	Text string
}

func (c TextContent) Body() string             { return c.Text }
func (c TextContent) Type() domain.MessageType { return domain.MessageTypeText }
func (c TextContent) Media() *domain.MediaRef  { return nil }

// MediaContent is any attachment. Kind is the stored message type and
// Placeholder the label shown in place of the binary content.
type MediaContent struct {
	Kind        domain.MessageType
	Placeholder string
	Ref         domain.MediaRef
}

func (c MediaContent) Type() domain.MessageType { return c.Kind }

func (c MediaContent) Media() *domain.MediaRef {
	ref := c.Ref
	return &ref
}

func (c MediaContent) Body() string {
	switch {
	case c.Ref.Caption != "":
		return c.Placeholder + ": " + c.Ref.Caption
	case c.Kind == domain.MessageTypeDocument && c.Ref.FileName != "":
		return c.Placeholder + ": " + c.Ref.FileName
	default:
		return c.Placeholder
	}
}

const (
	placeholderAudio    = "🎵 Áudio"
	placeholderImage    = "📷 Imagem"
	placeholderVideo    = "🎥 Vídeo"
	placeholderDocument = "📄 Documento"
	placeholderSticker  = "🎨 Figurinha"
)

// mediaKind maps a gateway media label ("audio", "audioMessage", "ptt", ...)
// to the stored type and placeholder.
func mediaKind(label string, ptt bool) (domain.MessageType, string, bool) {
	label = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(label)), "message")
	switch label {
	case "audio":
		if ptt {
			return domain.MessageTypePTT, placeholderAudio, true
		}
		return domain.MessageTypeAudio, placeholderAudio, true
	case "ptt", "voice":
		return domain.MessageTypePTT, placeholderAudio, true
	case "image":
		return domain.MessageTypeImage, placeholderImage, true
	case "video":
		return domain.MessageTypeVideo, placeholderVideo, true
	case "document", "documentwithcaption":
		return domain.MessageTypeDocument, placeholderDocument, true
	case "sticker":
		return domain.MessageTypeImage, placeholderSticker, true
	}
	return "", "", false
}

// mediaObject is the shape shared by envelope content and typed media sub-objects.
type mediaObject struct {
	URL      string   `json:"url"`
	MediaKey string   `json:"mediaKey"`
	Mimetype string   `json:"mimetype"`
	MimeType string   `json:"mimeType"`
	Seconds  flexInt  `json:"seconds"`
	FileName string   `json:"fileName"`
	Caption  string   `json:"caption"`
	PTT      flexBool `json:"ptt"`
}

func (m mediaObject) ref() domain.MediaRef {
	return domain.MediaRef{
		URL:             m.URL,
		MediaKey:        m.MediaKey,
		MimeType:        firstNonEmpty(m.Mimetype, m.MimeType),
		DurationSeconds: int(m.Seconds),
		FileName:        m.FileName,
		Caption:         strings.TrimSpace(m.Caption),
	}
}

type legacyMessage struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	AudioMessage    *mediaObject `json:"audioMessage"`
	ImageMessage    *mediaObject `json:"imageMessage"`
	VideoMessage    *mediaObject `json:"videoMessage"`
	DocumentMessage *mediaObject `json:"documentMessage"`
	StickerMessage  *mediaObject `json:"stickerMessage"`
}

type contentParser func(d *messageData) (Content, bool)

// parsers run in priority order; the first match wins.
var parsers = []contentParser{
	parseMediaEnvelope,
	parseLegacyText,
	parseFlatContent,
	parseTypedMedia,
}

func extractContent(d *messageData) Content {
	for _, p := range parsers {
		if c, ok := p(d); ok {
			return c
		}
	}
	return TextContent{}
}

// parseMediaEnvelope handles {"contentType":"audio","content":{...}}.
func parseMediaEnvelope(d *messageData) (Content, bool) {
	if d.ContentType == "" || len(d.Content) == 0 || d.Content[0] != '{' {
		return nil, false
	}
	var obj mediaObject
	if err := json.Unmarshal(d.Content, &obj); err != nil {
		return nil, false
	}
	kind, placeholder, ok := mediaKind(d.ContentType, obj.PTT.Value)
	if !ok {
		return nil, false
	}
	return MediaContent{Kind: kind, Placeholder: placeholder, Ref: obj.ref()}, true
}

// parseLegacyText handles message.conversation and message.extendedTextMessage.text.
func parseLegacyText(d *messageData) (Content, bool) {
	if d.Message == nil {
		return nil, false
	}
	if t := strings.TrimSpace(d.Message.Conversation); t != "" {
		return TextContent{Text: t}, true
	}
	if ext := d.Message.ExtendedTextMessage; ext != nil {
		if t := strings.TrimSpace(ext.Text); t != "" {
			return TextContent{Text: t}, true
		}
	}
	return nil, false
}

// parseFlatContent handles content.text, or content as a bare string.
func parseFlatContent(d *messageData) (Content, bool) {
	if len(d.Content) == 0 {
		return nil, false
	}
	switch d.Content[0] {
	case '"':
		var s string
		if err := json.Unmarshal(d.Content, &s); err == nil && strings.TrimSpace(s) != "" {
			return TextContent{Text: strings.TrimSpace(s)}, true
		}
	case '{':
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(d.Content, &obj); err == nil && strings.TrimSpace(obj.Text) != "" {
			return TextContent{Text: strings.TrimSpace(obj.Text)}, true
		}
	}
	return nil, false
}

// parseTypedMedia handles message.audioMessage and its siblings.
func parseTypedMedia(d *messageData) (Content, bool) {
	if d.Message == nil {
		return nil, false
	}
	candidates := []struct {
		label string
		obj   *mediaObject
	}{
		{"audio", d.Message.AudioMessage},
		{"image", d.Message.ImageMessage},
		{"video", d.Message.VideoMessage},
		{"document", d.Message.DocumentMessage},
		{"sticker", d.Message.StickerMessage},
	}
	for _, c := range candidates {
		if c.obj == nil {
			continue
		}
		kind, placeholder, _ := mediaKind(c.label, c.obj.PTT.Value)
		return MediaContent{Kind: kind, Placeholder: placeholder, Ref: c.obj.ref()}, true
	}
	return nil, false
}
