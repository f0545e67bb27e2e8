package messaging

import (
	"strings"

	"github.com/wolfman30/chatlink/internal/transport"
)

// ExtractContent maps a raw protocol payload to a stored kind and text. ok is false
// for noise: reactions, protocol messages and payloads with nothing to show.
func ExtractContent(c transport.Content) (kind ContentKind, text string, ok bool) {
	switch c.Kind {
	case transport.ContentText:
		text = strings.TrimSpace(c.Text)
		if text == "" {
			return "", "", false
		}
		return ContentText, text, true
	case transport.ContentImage:
		return ContentImage, strings.TrimSpace(c.Caption), true
	case transport.ContentVideo:
		return ContentVideo, strings.TrimSpace(c.Caption), true
	case transport.ContentDocument:
		text = strings.TrimSpace(c.Caption)
		if text == "" {
			text = strings.TrimSpace(c.FileName)
		}
		return ContentDocument, text, true
	case transport.ContentAudio, transport.ContentSticker, transport.ContentLocation, transport.ContentContact:
		return ContentUnsupported, "[" + string(c.Kind) + "]", true
	default:
		return "", "", false
	}
}
