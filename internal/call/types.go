// Package call implements ActiveCall, the per-session engine that bridges a
// WebSocket/WebRTC/SIP transport to the dialogue handler and media chains,
// and emits the call's CallRecord at hangup.
package call

import (
	"sync"
	"time"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/track"
)

// Type mirrors the Rust ActiveCallType: which transport originated the call.
type Type string

const (
	TypeWebSocket Type = "websocket"
	TypeWebRTC    Type = "webrtc"
	TypeSIP       Type = "sip"
)

// State is the call's lifecycle stage (Lifecycles).
type State string

const (
	StateIdle        State = "idle"
	StateInviting    State = "inviting"
	StateRinging     State = "ringing"
	StateAnswered    State = "answered"
	StateActive      State = "active"
	StateHold        State = "hold"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

// PendingASRResume holds what's needed to reconstruct the parent track's
// AsrFeed processor once a REFER child leg that paused it terminates.
type PendingASRResume struct {
	SSRC   uint32
	Config AsrConfig
}

// AsrConfig is the resolved configuration an AsrFeed processor needs,
// decoded once from CallOption.ASR at invite time so pause/resume never has
// to re-parse the free-form map.
type AsrConfig struct {
	Provider    string
	Language    string
	Streaming   bool
	Punctuation bool
	Vocab       []string
}

// TrackFactory builds MediaTracks without the call engine needing to know
// about RTP port allocation, ICE servers resolution, or codec negotiation
// details — AppState implements this by wiring sipsrv.PortAllocator and the
// track package's constructors.
type TrackFactory interface {
	NewWebRTCTrack(id string, offerSDP string, iceServers []event.ICEServer) (track.MediaTrack, error)
	NewSIPTrack(id string, codecPreference []string, directRTP bool) (track.MediaTrack, error)
}

// CallState is the mutable, reader-writer-guarded part of a Call.
// Readers hold the lock only across synchronous field access; nothing here
// is held across a suspension point.
type CallState struct {
	mu sync.RWMutex

	callType Type
	state    State

	startTime  time.Time
	ringTime   *time.Time
	answerTime *time.Time
	endTime    *time.Time

	caller string
	callee string

	statusCode   int
	hangupReason *event.HangupReason
	hangupInit   string
	hangupMsgs   []HangupMessage

	answerSDP string

	lastCommandSeq uint64
	playIDMap      map[string]string // fingerprint -> play id
	interrupting   bool
	isOnHold       bool

	pendingASRResume *PendingASRResume

	extras map[string]any
}

// HangupMessage is one entry of the ordered audit trail of status codes and
// reasons observed over the call's life.
type HangupMessage struct {
	Code   int
	Reason string
	Target string
}

func newCallState(callType Type, caller, callee string) *CallState {
	return &CallState{
		callType:  callType,
		state:     StateIdle,
		startTime: event.Now(),
		caller:    caller,
		callee:    callee,
		playIDMap: make(map[string]string),
		extras:    make(map[string]any),
	}
}

func (s *CallState) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *CallState) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *CallState) MarkRinging() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringTime == nil {
		now := event.Now()
		s.ringTime = &now
	}
	s.state = StateRinging
}

func (s *CallState) MarkAnswered(sdp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := event.Now()
	s.answerTime = &now
	s.answerSDP = sdp
	s.state = StateActive
}

func (s *CallState) AnswerSDP() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answerSDP
}

func (s *CallState) SetHold(onHold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isOnHold = onHold
	if onHold {
		s.state = StateHold
	} else if s.state == StateHold {
		s.state = StateActive
	}
}

func (s *CallState) IsOnHold() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnHold
}

func (s *CallState) SetInterrupting(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupting = v
}

func (s *CallState) Interrupting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interrupting
}

func (s *CallState) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCommandSeq++
	return s.lastCommandSeq
}

func (s *CallState) PlayID(fingerprint string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.playIDMap[fingerprint]
	return id, ok
}

func (s *CallState) SetPlayID(fingerprint, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playIDMap[fingerprint] = id
}

func (s *CallState) SetPendingASRResume(p *PendingASRResume) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingASRResume = p
}

func (s *CallState) TakePendingASRResume() *PendingASRResume {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingASRResume
	s.pendingASRResume = nil
	return p
}

func (s *CallState) Extra(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.extras[key]
	return v, ok
}

func (s *CallState) SetExtra(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extras[key] = value
}

func (s *CallState) ExtrasSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.extras))
	for k, v := range s.extras {
		out[k] = v
	}
	return out
}

func (s *CallState) appendHangupMessage(msg HangupMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangupMsgs = append(s.hangupMsgs, msg)
}

func (s *CallState) terminate(reason event.HangupReason, initiator string, statusCode int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated || s.state == StateTerminating {
		return false
	}
	s.state = StateTerminating
	s.hangupReason = &reason
	s.hangupInit = initiator
	s.statusCode = statusCode
	now := event.Now()
	s.endTime = &now
	return true
}

func (s *CallState) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTerminated
}

// snapshot is an internal, lock-free copy used to build a CDR at hangup.
type snapshot struct {
	callType     Type
	startTime    time.Time
	ringTime     *time.Time
	answerTime   *time.Time
	endTime      *time.Time
	caller       string
	callee       string
	statusCode   int
	hangupReason *event.HangupReason
	hangupMsgs   []HangupMessage
	extras       map[string]any
}

func (s *CallState) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	extras := make(map[string]any, len(s.extras))
	for k, v := range s.extras {
		extras[k] = v
	}
	msgs := make([]HangupMessage, len(s.hangupMsgs))
	copy(msgs, s.hangupMsgs)
	return snapshot{
		callType:     s.callType,
		startTime:    s.startTime,
		ringTime:     s.ringTime,
		answerTime:   s.answerTime,
		endTime:      s.endTime,
		caller:       s.caller,
		callee:       s.callee,
		statusCode:   s.statusCode,
		hangupReason: s.hangupReason,
		hangupMsgs:   msgs,
		extras:       extras,
	}
}
