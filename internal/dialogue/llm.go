package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// maxToolAttempts bounds the RAG tool-call/requery loop.
const maxToolAttempts = 3

const hangupToken = "<hangup/>"

// ChatMessage is one turn of the conversation sent to the LLM provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMConfig configures an LLMDialogue: provider/model/baseUrl/apiKey/prompt/greeting.
type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Prompt   string
	Greeting string
}

// LLMProvider calls a chat-completion backend with the running history and
// returns the assistant's raw response text.
type LLMProvider interface {
	Call(ctx context.Context, cfg LLMConfig, history []ChatMessage) (string, error)
}

// RAGRetriever looks up supporting context for a query the model asked for
// via a "rag" tool call.
type RAGRetriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

type noopRAGRetriever struct{}

func (noopRAGRetriever) Retrieve(ctx context.Context, query string) (string, error) { return "", nil }

// restyLLMProvider is the default LLMProvider, a plain OpenAI-compatible
// chat-completions client.
type restyLLMProvider struct {
	client *resty.Client
}

func newRestyLLMProvider() *restyLLMProvider {
	return &restyLLMProvider{client: resty.New()}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *restyLLMProvider) Call(ctx context.Context, cfg LLMConfig, history []ChatMessage) (string, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/chat/completions"
	} else if !strings.HasSuffix(baseURL, "/chat/completions") {
		baseURL = strings.TrimRight(baseURL, "/") + "/chat/completions"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-3.5-turbo"
	}

	var out chatCompletionResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetBody(map[string]any{"model": model, "messages": history}).
		SetResult(&out).
		Post(baseURL)
	if err != nil {
		return "", fmt.Errorf("dialogue: llm request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("dialogue: llm request failed: %s", resp.Status())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("dialogue: empty llm response")
	}
	return out.Choices[0].Message.Content, nil
}

type toolInvocation struct {
	Name      string `json:"name"`
	Reason    string `json:"reason,omitempty"`
	Initiator string `json:"initiator,omitempty"`
	Caller    string `json:"caller,omitempty"`
	Callee    string `json:"callee,omitempty"`
	Query     string `json:"query,omitempty"`
	Source    string `json:"source,omitempty"`
}

type structuredResponse struct {
	Text             string           `json:"text"`
	WaitInputTimeout *int             `json:"waitInputTimeout"`
	Tools            []toolInvocation `json:"tools"`
}

// LLMDialogue drives the conversation through a chat-completion backend,
// turning each response into Tts/Hangup/Refer commands: history bookkeeping,
// a barge-in-on-speaking flag, and a structured tool-call loop, all behind
// plain mutex-guarded methods since the engine drives a dialogue.Handler from
// a single serial goroutine.
type LLMDialogue struct {
	mu sync.Mutex

	log      logx.Logger
	config   LLMConfig
	history  []ChatMessage
	provider LLMProvider
	rag      RAGRetriever
	speaking bool
}

// NewLLMDialogue builds an LLMDialogue with the default resty-based provider
// and no RAG retrieval.
func NewLLMDialogue(log logx.Logger, cfg LLMConfig) *LLMDialogue {
	return NewLLMDialogueWithProvider(log, cfg, newRestyLLMProvider(), noopRAGRetriever{})
}

// NewLLMDialogueWithProvider builds an LLMDialogue with an injected provider
// and retriever, for tests or alternate backends.
func NewLLMDialogueWithProvider(log logx.Logger, cfg LLMConfig, provider LLMProvider, rag RAGRetriever) *LLMDialogue {
	var history []ChatMessage
	if cfg.Prompt != "" {
		history = append(history, ChatMessage{Role: "system", Content: cfg.Prompt})
	}
	return &LLMDialogue{
		log:      log,
		config:   cfg,
		history:  history,
		provider: provider,
		rag:      rag,
	}
}

func (d *LLMDialogue) OnStart(ctx context.Context) ([]event.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config.Greeting != "" {
		d.speaking = true
		return []event.Command{ttsCommand(d.config.Greeting, nil)}, nil
	}
	return d.generateResponseLocked(ctx)
}

func (d *LLMDialogue) OnEvent(ctx context.Context, ev *event.SessionEvent) ([]event.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Tag {
	case event.EvAsrFinal:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return nil, nil
		}
		d.history = append(d.history, ChatMessage{Role: "user", Content: text})
		return d.generateResponseLocked(ctx)

	case event.EvAsrDelta, event.EvSpeaking:
		if d.speaking {
			d.log.Infow("interruption detected, stopping playback")
			d.speaking = false
			return []event.Command{{Tag: event.CmdInterrupt, Graceful: true}}, nil
		}
		return nil, nil

	case event.EvSilence:
		d.log.Infow("silence timeout detected, triggering follow-up")
		return d.generateResponseLocked(ctx)

	case event.EvTrackEnd:
		d.speaking = false
		return nil, nil

	default:
		return nil, nil
	}
}

func (d *LLMDialogue) generateResponseLocked(ctx context.Context) ([]event.Command, error) {
	raw, err := d.provider.Call(ctx, d.config, d.history)
	if err != nil {
		return nil, err
	}
	return d.interpretResponseLocked(ctx, raw)
}

// interpretResponseLocked parses raw for a JSON tool-call envelope, applying
// hangup/refer/rag tools, requerying the model once per rag call up to
// maxToolAttempts, and finally checks the spoken text for a literal
// "<hangup/>" token — a simpler hangup signal that doesn't require the model
// to emit structured tool calls. Rendering any configured hangup headers
// happens downstream in the hangup dispatch, not here.
func (d *LLMDialogue) interpretResponseLocked(ctx context.Context, initial string) ([]event.Command, error) {
	var toolCommands []event.Command
	var waitTimeout *int
	var finalText string
	raw := initial

	for attempt := 1; ; attempt++ {
		structured, ok := parseStructuredResponse(raw)
		if !ok {
			finalText = raw
			break
		}
		if waitTimeout == nil {
			waitTimeout = structured.WaitInputTimeout
		}

		rerunForRAG := false
		for _, tool := range structured.Tools {
			switch tool.Name {
			case "hangup":
				toolCommands = append(toolCommands, event.Command{Tag: event.CmdHangup, Reason: tool.Reason, Initiator: tool.Initiator})
			case "refer":
				toolCommands = append(toolCommands, event.Command{Tag: event.CmdRefer, Caller: tool.Caller, Callee: tool.Callee})
			case "rag":
				result, err := d.rag.Retrieve(ctx, tool.Query)
				if err != nil {
					return nil, err
				}
				summary := result
				if tool.Source != "" {
					summary = fmt.Sprintf("[%s] %s", tool.Source, result)
				}
				d.history = append(d.history, ChatMessage{Role: "system", Content: fmt.Sprintf("RAG result for %s: %s", tool.Query, summary)})
				rerunForRAG = true
			}
		}

		if rerunForRAG {
			if attempt >= maxToolAttempts {
				d.log.Warnw("reached rag iteration limit, using last response", "attempts", attempt)
				finalText = structured.Text
				if finalText == "" {
					finalText = raw
				}
				break
			}
			next, err := d.provider.Call(ctx, d.config, d.history)
			if err != nil {
				return nil, err
			}
			raw = next
			continue
		}

		finalText = structured.Text
		if finalText == "" {
			finalText = raw
		}
		break
	}

	hangupFromToken := false
	if idx := strings.Index(finalText, hangupToken); idx >= 0 {
		hangupFromToken = true
		finalText = strings.TrimSpace(finalText[:idx] + finalText[idx+len(hangupToken):])
	}

	var commands []event.Command
	if strings.TrimSpace(finalText) != "" {
		d.history = append(d.history, ChatMessage{Role: "assistant", Content: finalText})
		d.speaking = true
		commands = append(commands, ttsCommand(finalText, waitTimeout))
	}
	commands = append(commands, toolCommands...)
	if hangupFromToken {
		commands = append(commands, event.Command{Tag: event.CmdHangup, Reason: "llm", Initiator: "dialogue"})
	}
	return commands, nil
}

func ttsCommand(text string, waitTimeout *int) event.Command {
	timeout := 10
	if waitTimeout != nil {
		timeout = *waitTimeout
	}
	return event.Command{Tag: event.CmdTts, Text: text, WaitInputTimeoutS: timeout}
}

// parseStructuredResponse extracts a JSON tool-call envelope from raw, which
// may be bare JSON or fenced in a ```json code block.
func parseStructuredResponse(raw string) (structuredResponse, bool) {
	payload, ok := extractJSONBlock(raw)
	if !ok {
		return structuredResponse{}, false
	}
	var out structuredResponse
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return structuredResponse{}, false
	}
	return out, true
}

func extractJSONBlock(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(trimmed, "`"):
		end := strings.LastIndex(trimmed, "```")
		if end <= 3 {
			return "", false
		}
		inner := strings.TrimSpace(trimmed[3:end])
		if strings.HasPrefix(strings.ToLower(inner), "json") {
			if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
				inner = strings.TrimSpace(inner[nl+1:])
			} else if len(inner) > 4 {
				inner = strings.TrimSpace(inner[4:])
			}
		}
		return inner, true
	case strings.HasPrefix(trimmed, "{"), strings.HasPrefix(trimmed, "["):
		return trimmed, true
	default:
		return "", false
	}
}
