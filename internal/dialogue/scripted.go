package dialogue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// Step is one node of a ScriptedDialogue's playbook: a prompt to speak, plus
// the branches that decide which step runs next.
type Step struct {
	ID                string
	Prompt            string
	WaitInputTimeoutS int
	AutoHangup        bool

	// Branches are tried in order against the triggering DTMF digit or ASR
	// text; the first match wins.
	Branches []Branch

	// Default is the next step when no branch matches (ASR text or silence
	// timeout). Empty means stay on this step.
	Default string

	// Hangup marks a terminal step: instead of a Tts command, entering it
	// issues Command{Hangup} with Prompt as the reason.
	Hangup bool
}

// Branch matches either a DTMF digit or a case-insensitive substring of the
// caller's ASR final text, and transitions to Next (or hangs up).
type Branch struct {
	Digit    string
	Contains string
	Next     string
	Hangup   bool
}

// ScriptedDialogue is a deterministic playbook keyed on DTMF digits and ASR
// text, for IVR-style call flows that don't need an LLM in the loop.
type ScriptedDialogue struct {
	mu sync.Mutex

	log       logx.Logger
	steps     map[string]Step
	startStep string

	current  string
	speaking bool
}

// NewScriptedDialogue builds a dialogue over steps, entering startStep on
// OnStart. Step.ID must be unique; Branch.Next and Step.Default must name an
// existing step.
func NewScriptedDialogue(log logx.Logger, steps []Step, startStep string) *ScriptedDialogue {
	m := make(map[string]Step, len(steps))
	for _, s := range steps {
		m[s.ID] = s
	}
	return &ScriptedDialogue{
		log:       log,
		steps:     m,
		startStep: startStep,
		current:   startStep,
	}
}

func (d *ScriptedDialogue) OnStart(ctx context.Context) ([]event.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enterLocked(d.startStep)
}

func (d *ScriptedDialogue) OnEvent(ctx context.Context, ev *event.SessionEvent) ([]event.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Tag {
	case event.EvDtmf:
		return d.onInputLocked(ev.Digit, "")

	case event.EvAsrFinal:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return nil, nil
		}
		return d.onInputLocked("", text)

	case event.EvAsrDelta, event.EvSpeaking:
		if d.speaking {
			d.speaking = false
			return []event.Command{{Tag: event.CmdInterrupt, Graceful: true}}, nil
		}
		return nil, nil

	case event.EvSilence:
		step, ok := d.steps[d.current]
		if !ok || step.Default == "" {
			return nil, nil
		}
		return d.enterLocked(step.Default)

	case event.EvTrackEnd:
		d.speaking = false
		return nil, nil

	default:
		return nil, nil
	}
}

func (d *ScriptedDialogue) onInputLocked(digit, text string) ([]event.Command, error) {
	step, ok := d.steps[d.current]
	if !ok {
		return nil, fmt.Errorf("dialogue: unknown step %q", d.current)
	}

	lowerText := strings.ToLower(text)
	for _, b := range step.Branches {
		if digit != "" && b.Digit != "" && b.Digit == digit {
			return d.applyBranchLocked(b)
		}
		if text != "" && b.Contains != "" && strings.Contains(lowerText, strings.ToLower(b.Contains)) {
			return d.applyBranchLocked(b)
		}
	}
	if step.Default != "" {
		return d.enterLocked(step.Default)
	}
	return nil, nil
}

func (d *ScriptedDialogue) applyBranchLocked(b Branch) ([]event.Command, error) {
	if b.Hangup {
		d.speaking = false
		return []event.Command{{Tag: event.CmdHangup, Reason: "branch", Initiator: "dialogue"}}, nil
	}
	return d.enterLocked(b.Next)
}

func (d *ScriptedDialogue) enterLocked(id string) ([]event.Command, error) {
	step, ok := d.steps[id]
	if !ok {
		return nil, fmt.Errorf("dialogue: unknown step %q", id)
	}
	d.current = id

	if step.Hangup {
		d.speaking = false
		return []event.Command{{Tag: event.CmdHangup, Reason: step.Prompt, Initiator: "dialogue"}}, nil
	}

	d.speaking = true
	return []event.Command{{
		Tag:               event.CmdTts,
		Text:              step.Prompt,
		WaitInputTimeoutS: step.WaitInputTimeoutS,
		AutoHangup:        step.AutoHangup,
	}}, nil
}
