// Package transcription converts voice notes to text through a
// Whisper-compatible HTTP API.
package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"salesbot-wa-be/pkg/whatsapp/driver"
)

const (
	DefaultModel    = "whisper-1"
	DefaultLanguage = "pt"
	maxAudioBytes   = 25 << 20
)

var (
	ErrNoMedia  = errors.New("transcription: media has no reference")
	ErrTooLarge = errors.New("transcription: audio exceeds 25MB")
)

type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

type WhisperTranscriber struct {
	cfg    Config
	client *http.Client
}

func NewWhisperTranscriber(cfg Config) *WhisperTranscriber {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &WhisperTranscriber{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, media driver.MediaDescriptor) (string, error) {
	audio, err := w.fetch(ctx, media.Ref)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName(media))
	if err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	for k, v := range map[string]string{"model": w.cfg.Model, "language": w.cfg.Language, "response_format": "text"} {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription error: status %d, body: %s", resp.StatusCode, string(raw))
	}
	return strings.TrimSpace(string(raw)), nil
}

// fetch resolves a media ref: either a data URL carried inline by the
// transport or an http(s) URL served by the sidecar.
func (w *WhisperTranscriber) fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case ref == "":
		return nil, ErrNoMedia
	case strings.HasPrefix(ref, "data:"):
		i := strings.Index(ref, ";base64,")
		if i < 0 {
			return nil, fmt.Errorf("transcription: unsupported data url")
		}
		audio, err := base64.StdEncoding.DecodeString(ref[i+len(";base64,"):])
		if err != nil {
			return nil, fmt.Errorf("decode inline audio: %w", err)
		}
		if len(audio) > maxAudioBytes {
			return nil, ErrTooLarge
		}
		return audio, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create download: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	if len(audio) > maxAudioBytes {
		return nil, ErrTooLarge
	}
	return audio, nil
}

func fileName(m driver.MediaDescriptor) string {
	if m.FileName != "" {
		return m.FileName
	}
	if !strings.HasPrefix(m.Ref, "data:") {
		if base := path.Base(m.Ref); base != "." && base != "/" && strings.Contains(base, ".") {
			return base
		}
	}
	return "audio.ogg"
}
