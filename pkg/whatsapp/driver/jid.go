package driver

import (
	"strings"
	"unicode"
)

const (
	primarySuffix  = "@c.us"
	fallbackSuffix = "@s.whatsapp.net"
)

// Digits strips everything but 0-9.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PrimaryJID addresses a phone on the primary transport.
func PrimaryJID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return Digits(phone) + primarySuffix
}

// FallbackJID addresses a phone on the fallback transport.
func FallbackJID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return Digits(phone) + fallbackSuffix
}

// PhoneFromJID returns the user part of a JID ("5511...@c.us" -> "5511...").
// Device suffixes like ":12" are dropped.
func PhoneFromJID(jid string) string {
	user := jid
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return Digits(user)
}

// IsGroupJID reports group and broadcast addresses, which are never routed
// to the sales agent.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us") || strings.HasSuffix(jid, "@broadcast") || strings.HasSuffix(jid, "@newsletter")
}

// MediaPlaceholder renders the text used for a media message without
// caption.
func MediaPlaceholder(m *MediaDescriptor) string {
	if m == nil {
		return ""
	}
	if m.Caption != "" {
		return m.Caption
	}
	switch m.Kind {
	case MediaImage:
		return "[Imagem]"
	case MediaVideo:
		return "[Vídeo]"
	case MediaAudio:
		return "[Áudio]"
	case MediaDocument:
		if m.FileName != "" {
			return "[" + m.FileName + "]"
		}
		return "[Documento]"
	}
	return ""
}
