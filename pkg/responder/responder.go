// Package responder turns an inbound customer message into the agent's
// reply using a chat model and a short per-lead memory.
package responder

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"salesbot-wa-be/pkg/llm"
	"salesbot-wa-be/pkg/whatsapp/pipeline"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultHistoryTurns = 10
	DefaultHistoryTTL   = 2 * time.Hour

	// SilenceToken lets the model decline to answer.
	SilenceToken = "[[silence]]"
)

var mediaDirective = regexp.MustCompile(`\[\[media:([^\]]+)\]\]`)

type Config struct {
	SystemPrompt string
	HistoryTurns int
	HistoryTTL   time.Duration
	Temperature  float64
	MaxTokens    int
}

// LLMResponder implements pipeline.Responder.
type LLMResponder struct {
	cfg      Config
	provider llm.LLMProvider
	history  *cache.Cache
}

var _ pipeline.Responder = (*LLMResponder)(nil)

func NewLLMResponder(provider llm.LLMProvider, cfg Config) *LLMResponder {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = DefaultHistoryTTL
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	return &LLMResponder{
		cfg:      cfg,
		provider: provider,
		history:  cache.New(cfg.HistoryTTL, 10*time.Minute),
	}
}

func (r *LLMResponder) Generate(ctx context.Context, senderID, text, mediaRef string) (*pipeline.Reply, error) {
	prior := r.turns(senderID)

	user := text
	if mediaRef != "" && !strings.Contains(text, mediaRef) {
		user = fmt.Sprintf("%s\n(anexo: %s)", text, mediaRef)
	}

	msgs := make([]llm.Message, 0, len(prior)+2)
	if r.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: r.cfg.SystemPrompt})
	}
	msgs = append(msgs, prior...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: user})

	opts := []llm.Option{llm.WithTemperature(r.cfg.Temperature)}
	if r.cfg.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(r.cfg.MaxTokens))
	}
	out, err := r.provider.Chat(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	reply := Parse(out)
	assistant := out
	if reply == nil {
		assistant = SilenceToken
	}
	r.remember(senderID, llm.Message{Role: llm.RoleUser, Content: user}, llm.Message{Role: llm.RoleAssistant, Content: assistant})
	return reply, nil
}

// Parse extracts the media directive from a completion. It returns nil
// when the model chose not to answer.
func Parse(out string) *pipeline.Reply {
	out = strings.TrimSpace(out)
	if out == "" || strings.EqualFold(out, SilenceToken) {
		return nil
	}
	reply := &pipeline.Reply{}
	if m := mediaDirective.FindStringSubmatch(out); m != nil {
		reply.MediaRef = strings.TrimSpace(m[1])
		out = strings.TrimSpace(mediaDirective.ReplaceAllString(out, ""))
	}
	reply.Text = out
	if reply.Text == "" && reply.MediaRef == "" {
		return nil
	}
	return reply
}

func (r *LLMResponder) turns(senderID string) []llm.Message {
	v, ok := r.history.Get(senderID)
	if !ok {
		return nil
	}
	return append([]llm.Message(nil), v.([]llm.Message)...)
}

func (r *LLMResponder) remember(senderID string, msgs ...llm.Message) {
	h := append(r.turns(senderID), msgs...)
	if limit := r.cfg.HistoryTurns * 2; len(h) > limit {
		h = h[len(h)-limit:]
	}
	r.history.SetDefault(senderID, h)
}

// Forget drops the memory kept for a lead.
func (r *LLMResponder) Forget(senderID string) { r.history.Delete(senderID) }
