package dialogue

import (
	"context"
	"testing"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// queueProvider returns queued responses in order, failing the test via error
// once exhausted.
type queueProvider struct {
	responses []string
}

func (p *queueProvider) Call(ctx context.Context, cfg LLMConfig, history []ChatMessage) (string, error) {
	if len(p.responses) == 0 {
		return "", errEmptyQueue
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

var errEmptyQueue = &emptyQueueError{}

type emptyQueueError struct{}

func (*emptyQueueError) Error() string { return "dialogue: test provider ran out of responses" }

// recordingRAG records every query it's asked to retrieve.
type recordingRAG struct {
	queries []string
}

func (r *recordingRAG) Retrieve(ctx context.Context, query string) (string, error) {
	r.queries = append(r.queries, query)
	return "retrieved " + query, nil
}

func TestLLMDialogueAppliesToolInstructions(t *testing.T) {
	response := `{
		"text": "Goodbye",
		"waitInputTimeout": 15,
		"tools": [
			{"name": "hangup", "reason": "done", "initiator": "agent"},
			{"name": "refer", "caller": "sip:bot", "callee": "sip:lead"}
		]
	}`
	provider := &queueProvider{responses: []string{response}}
	d := NewLLMDialogueWithProvider(logx.NewDevelopment(), LLMConfig{}, provider, noopRAGRetriever{})

	cmds, err := d.OnEvent(context.Background(), &event.SessionEvent{Tag: event.EvAsrFinal, Text: "hello"})
	if err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands (tts+hangup+refer), got %d: %+v", len(cmds), cmds)
	}
	if cmds[0].Tag != event.CmdTts || cmds[0].Text != "Goodbye" || cmds[0].WaitInputTimeoutS != 15 {
		t.Fatalf("unexpected tts command: %+v", cmds[0])
	}
	var sawHangup, sawRefer bool
	for _, c := range cmds[1:] {
		if c.Tag == event.CmdHangup && c.Reason == "done" && c.Initiator == "agent" {
			sawHangup = true
		}
		if c.Tag == event.CmdRefer && c.Caller == "sip:bot" && c.Callee == "sip:lead" {
			sawRefer = true
		}
	}
	if !sawHangup || !sawRefer {
		t.Fatalf("expected both hangup and refer commands, got %+v", cmds)
	}
}

func TestLLMDialogueRequeriesAfterRAG(t *testing.T) {
	ragInstruction := `{"tools": [{"name": "rag", "query": "policy"}]}`
	provider := &queueProvider{responses: []string{ragInstruction, "Final answer"}}
	rag := &recordingRAG{}
	d := NewLLMDialogueWithProvider(logx.NewDevelopment(), LLMConfig{}, provider, rag)

	cmds, err := d.OnEvent(context.Background(), &event.SessionEvent{Tag: event.EvAsrFinal, Text: "reep"})
	if err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Text != "Final answer" || cmds[0].WaitInputTimeoutS != 10 {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
	if len(rag.queries) != 1 || rag.queries[0] != "policy" {
		t.Fatalf("expected rag to be queried once with 'policy', got %+v", rag.queries)
	}
}

func TestLLMDialogueHangupToken(t *testing.T) {
	provider := &queueProvider{responses: []string{"Thanks for calling, goodbye. " + hangupToken}}
	d := NewLLMDialogueWithProvider(logx.NewDevelopment(), LLMConfig{}, provider, noopRAGRetriever{})

	cmds, err := d.OnEvent(context.Background(), &event.SessionEvent{Tag: event.EvAsrFinal, Text: "that's all"})
	if err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected tts + hangup, got %+v", cmds)
	}
	if cmds[0].Tag != event.CmdTts || cmds[0].Text != "Thanks for calling, goodbye." {
		t.Fatalf("unexpected tts text: %q", cmds[0].Text)
	}
	if cmds[1].Tag != event.CmdHangup {
		t.Fatalf("expected hangup command, got %+v", cmds[1])
	}
}

func TestLLMDialogueBargeInStopsPlayback(t *testing.T) {
	provider := &queueProvider{responses: []string{"Hello there"}}
	d := NewLLMDialogueWithProvider(logx.NewDevelopment(), LLMConfig{}, provider, noopRAGRetriever{})

	if _, err := d.OnEvent(context.Background(), &event.SessionEvent{Tag: event.EvAsrFinal, Text: "hi"}); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	cmds, err := d.OnEvent(context.Background(), &event.SessionEvent{Tag: event.EvSpeaking})
	if err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Tag != event.CmdInterrupt {
		t.Fatalf("expected interrupt command, got %+v", cmds)
	}
}

func TestLLMDialogueOnStartUsesGreeting(t *testing.T) {
	provider := &queueProvider{}
	d := NewLLMDialogueWithProvider(logx.NewDevelopment(), LLMConfig{Greeting: "Welcome!"}, provider, noopRAGRetriever{})
	cmds, err := d.OnStart(context.Background())
	if err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Text != "Welcome!" {
		t.Fatalf("unexpected greeting commands: %+v", cmds)
	}
}
