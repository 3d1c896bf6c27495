package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/restsend/active-call/internal/cdr"
	"github.com/restsend/active-call/internal/dialogue"
	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
	"github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/stream"
	"github.com/restsend/active-call/internal/track"
)

// DumpSink persists the optional per-call JSONL event/command dump. AppState
// opens one per call using the CDR formatter's path scheme and hands it in
// via Deps.
type DumpSink interface {
	Write(typ cdr.EventRecordType, content string)
	Close() error
}

// Deps bundles everything ActiveCall needs beyond its own state, resolved by
// AppState before the call is constructed.
type Deps struct {
	Log          logx.Logger
	TrackFactory TrackFactory
	Speech       SpeechDispatcher
	Dialogue     dialogue.Handler // optional; nil runs media-only with no playbook
	CDR          cdr.Sender       // optional; nil disables CDR emission
	DumpSink     DumpSink         // optional
	ICEServers   []event.ICEServer
	Caller       string
	Callee       string
}

// referLeg tracks the second, REFER-spawned track sharing this call's
// MediaStream.
type referLeg struct {
	trackID   string
	callee    string
	startTime time.Time
	endTime   *time.Time
	status    int
}

// ActiveCall is the per-session engine: it owns exactly one
// MediaStream, command queue, event broadcaster, and cancellation token, and
// drives the optional dialogue handler from its own single serial loop.
type ActiveCall struct {
	log       logx.Logger
	sessionID string
	callType  Type
	deps      Deps

	state  *CallState
	stream *stream.MediaStream
	queue  *commandQueue
	bcast  *broadcaster

	optMu sync.RWMutex
	opt   *event.CallOption

	serverSideTrackID string
	asrConfigs        map[string]AsrConfig
	recorders         map[string]*media.Recorder
	asrFeeds          map[string]*media.AsrFeed
	holds             map[string]*media.Hold
	volumes           map[string]*media.VolumeControl
	trackMu           sync.Mutex

	wsTrack *track.WSTrack // non-nil only for Type==TypeWebSocket
	audioRx <-chan []byte  // inbound WS binary PCM frames, optional

	playbackMu     sync.Mutex
	playbackCancel context.CancelFunc
	currentPlayID  string
	playGen        uint64

	referMu sync.Mutex
	refer   *referLeg

	ctx    context.Context
	cancel context.CancelFunc

	cleanupOnce sync.Once
	done        chan struct{}
}

// New builds an ActiveCall in state Idle; nothing is created on the wire
// until an Invite/Accept command arrives. parent governs the call's overall
// lifetime (process shutdown cancels it); audioRx, when non-nil, is the
// inbound raw-PCM channel for a WebSocket call type.
func New(parent context.Context, sessionID string, callType Type, deps Deps, audioRx <-chan []byte) *ActiveCall {
	ctx, cancel := context.WithCancel(parent)
	c := &ActiveCall{
		log:        deps.Log,
		sessionID:  sessionID,
		callType:   callType,
		deps:       deps,
		state:      newCallState(callType, deps.Caller, deps.Callee),
		stream:     stream.New(deps.Log),
		queue:      newCommandQueue(),
		bcast:      newBroadcaster(deps.Log),
		asrConfigs: make(map[string]AsrConfig),
		asrFeeds:   make(map[string]*media.AsrFeed),
		holds:      make(map[string]*media.Hold),
		volumes:    make(map[string]*media.VolumeControl),
		audioRx:    audioRx,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if callType == TypeWebSocket {
		c.wsTrack = track.NewWSTrack("caller", deps.Log, 256)
		c.serverSideTrackID = "caller"
	}
	return c
}

// SessionID returns the call's unique id.
func (c *ActiveCall) SessionID() string { return c.sessionID }

// SetServerTrackID overrides the label the engine's own media leg answers to
// (`server_side_track` query param), default "caller". Only has an
// effect when called before the first Invite/Accept command creates a track.
func (c *ActiveCall) SetServerTrackID(id string) {
	if id != "" {
		c.serverSideTrackID = id
	}
}

// State returns the call's current lifecycle stage.
func (c *ActiveCall) State() State { return c.state.State() }

// EnqueueCommand appends cmd to the per-call queue, assigning its sequence
// number. Errors only if the call has already terminated.
func (c *ActiveCall) EnqueueCommand(cmd event.Command) error {
	cmd.Seq = c.state.NextSeq()
	if !c.queue.push(cmd) {
		return fmt.Errorf("call: %s already terminated", c.sessionID)
	}
	return nil
}

// Subscribe registers a new SessionEvent subscriber. The returned cancel func
// must be called once the subscriber is done to free its channel.
func (c *ActiveCall) Subscribe() (<-chan event.SessionEvent, func()) {
	return c.bcast.subscribe()
}

// OutboundAudio exposes the WSTrack's outbound PCM channel for a WebSocket
// call; nil for WebRTC/SIP calls (their media leaves via RTP/SRTP directly).
func (c *ActiveCall) OutboundAudio() <-chan []byte {
	if c.wsTrack == nil {
		return nil
	}
	return c.wsTrack.Outbound()
}

// Done is closed once cleanup has fully run.
func (c *ActiveCall) Done() <-chan struct{} { return c.done }

// Cancel fires the call's cancellation token.
func (c *ActiveCall) Cancel() { c.cancel() }

// Serve runs the main loop until cancellation: a cooperative
// single task selecting over command arrival, MediaStream events, inbound WS
// audio, and cancellation, in no particular cross-channel order.
func (c *ActiveCall) Serve() error {
	defer close(c.done)

	if c.wsTrack != nil {
		c.stream.AddTrack(c.wsTrack)
	}

	for {
		select {
		case <-c.ctx.Done():
			for _, cmd := range c.queue.popAll() {
				c.dispatchBatch([]event.Command{cmd})
			}
			c.cleanup(event.HangupReason{Kind: event.HangupBySystem}, "system")
			return c.ctx.Err()

		case <-c.queue.wake():
			c.dispatchBatch(c.queue.popAll())

		case ev, ok := <-c.stream.Events():
			if !ok {
				continue
			}
			c.handleStreamEvent(ev)

		case raw, ok := <-c.audioRx:
			if !ok {
				c.audioRx = nil
				continue
			}
			if c.wsTrack != nil {
				c.wsTrack.FeedPCM(c.ctx, raw, event.Now().UnixMilli())
			}
		}

		if c.state.State() == StateTerminated {
			return nil
		}
	}
}

// dispatchBatch processes one wakeup's worth of queued commands in order,
// implementing the "flush queued Tts commands with the same play_id prefix"
// rule from an Interrupt within the same batch.
func (c *ActiveCall) dispatchBatch(cmds []event.Command) {
	for i := range cmds {
		cmd := cmds[i]
		if cmd.Tag == "" {
			continue // flushed by an Interrupt earlier in this batch
		}
		c.dispatch(cmd)
		if cmd.Tag == event.CmdInterrupt {
			prefix := c.currentPlayIDPrefix()
			if prefix != "" {
				for j := i + 1; j < len(cmds); j++ {
					if cmds[j].Tag == event.CmdTts && hasPlayIDPrefix(cmds[j].PlayID, prefix) {
						cmds[j].Tag = ""
					}
				}
			}
		}
	}
}

func hasPlayIDPrefix(playID, prefix string) bool {
	if prefix == "" || playID == "" {
		return false
	}
	return len(playID) >= len(prefix) && playID[:len(prefix)] == prefix
}

func (c *ActiveCall) currentPlayIDPrefix() string {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()
	return c.currentPlayID
}

// option returns the immutable-post-invite CallOption, or nil before Invite.
func (c *ActiveCall) option() *event.CallOption {
	c.optMu.RLock()
	defer c.optMu.RUnlock()
	return c.opt
}

func (c *ActiveCall) setOption(o *event.CallOption) {
	c.optMu.Lock()
	defer c.optMu.Unlock()
	c.opt = o
}

// publish broadcasts ev to subscribers, records it in the dump sink, and
// feeds it to the dialogue handler, dispatching whatever commands the
// dialogue emits in response.
func (c *ActiveCall) publish(ev event.SessionEvent) {
	c.bcast.publish(ev)
	c.dumpEvent(ev)
	if c.deps.Dialogue == nil {
		return
	}
	cmds, err := c.deps.Dialogue.OnEvent(c.ctx, &ev)
	if err != nil {
		c.log.Warnw("dialogue OnEvent failed", "call", c.sessionID, "error", err)
		c.publishNoDialogue(event.SessionEvent{Tag: event.EvError, ErrorKind: "provider_failure", ErrorDetail: err.Error()})
		return
	}
	for _, cmd := range cmds {
		c.dispatch(cmd)
	}
}

// publishNoDialogue is publish without dialogue feedback, to avoid a
// dialogue error loop when reporting a dialogue error itself.
func (c *ActiveCall) publishNoDialogue(ev event.SessionEvent) {
	c.bcast.publish(ev)
	c.dumpEvent(ev)
}

func (c *ActiveCall) dumpEvent(ev event.SessionEvent) {
	if c.deps.DumpSink == nil {
		return
	}
	c.deps.DumpSink.Write(cdr.EventRecordEvent, fmt.Sprintf("%+v", ev))
}

func (c *ActiveCall) dumpCommand(cmd event.Command) {
	if c.deps.DumpSink == nil {
		return
	}
	c.deps.DumpSink.Write(cdr.EventRecordCommand, fmt.Sprintf("%+v", cmd))
}

// handleStreamEvent applies MediaStream events to call state before handing
// them to publish: Hangup/Inactivity/TrackEnd drive lifecycle transitions the
// dialogue never sees directly.
func (c *ActiveCall) handleStreamEvent(ev event.SessionEvent) {
	switch ev.Tag {
	case event.EvHangup:
		// A track itself signaling Hangup (remote BYE, DTLS failure, WS
		// close forwarded by the transport layer) goes through the same
		// terminate-then-cleanup path as a local Hangup command.
		c.beginHangup(ev.HangupReason, ev.Initiator, 0)
		return

	case event.EvInactivity:
		c.publish(ev)
		c.beginHangup(event.HangupReason{Kind: event.HangupFailed}, "inactivity", 0)
		return

	case event.EvTrackEnd:
		c.handleReferTrackEnd(ev.TrackID)
		c.publish(ev)
		return

	case event.EvAsrFinal:
		c.playGen++ // a finalized utterance clears any armed silence watchdog
		c.publish(ev)
		return

	case event.EvHold:
		// A re-INVITE toggling hold at the transport level drives the same
		// Hold processor + CallState path a Hold/Unhold command does, so
		// inbound audio is silenced before ASR regardless of which side
		// triggered the hold.
		c.setHold(ev.TrackID, ev.OnHold)
		c.publish(ev)
		return

	default:
		c.publish(ev)
	}
}

// beginHangup transitions to Terminating and runs cleanup; safe to call from
// any goroutine since CallState.terminate is itself guarded and idempotent.
func (c *ActiveCall) beginHangup(reason event.HangupReason, initiator string, statusCode int) {
	if !c.state.terminate(reason, initiator, statusCode) {
		return
	}
	c.stopPlayback()
	c.publishNoDialogue(event.SessionEvent{
		Tag:          event.EvHangup,
		HangupReason: reason,
		Initiator:    initiator,
	})
	c.cleanup(reason, initiator)
}

// cleanup idempotently tears down media, finalizes recordings, closes the
// dump file, and emits the final CDR. It is always safe to call
// more than once.
func (c *ActiveCall) cleanup(reason event.HangupReason, initiator string) {
	c.cleanupOnce.Do(func() {
		c.queue.close()
		c.stopPlayback()
		c.state.SetPendingASRResume(nil)

		var recordings []cdr.Media
		for _, id := range c.stream.Tracks() {
			recordings = append(recordings, c.finalizeRecorder(id)...)
		}
		c.stream.Close()

		if c.deps.DumpSink != nil {
			c.deps.DumpSink.Close()
		}

		c.state.finish()

		if c.deps.CDR != nil {
			c.deps.CDR.Send(c.buildRecord(reason, initiator, recordings))
		}

		c.bcast.closeAll()
		c.cancel()
	})
}

func (c *ActiveCall) finalizeRecorder(trackID string) []cdr.Media {
	c.trackMu.Lock()
	rec, ok := c.recorders[trackID]
	c.trackMu.Unlock()
	if !ok || rec == nil {
		return nil
	}
	data, err := rec.Finalize()
	if err != nil {
		c.log.Warnw("recorder finalize failed", "call", c.sessionID, "track", trackID, "error", err)
		return nil
	}
	if data == nil {
		return nil
	}
	// Path assignment (formatter-driven) and the actual write are AppState's
	// concern once a CDR formatter is wired in; here we surface the size and
	// a call-local placeholder path so CallRecord.recorder is always
	// populated even before that wiring runs.
	return []cdr.Media{{TrackID: trackID, Path: trackID + ".wav", Size: int64(len(data))}}
}

func (c *ActiveCall) buildRecord(reason event.HangupReason, initiator string, recordings []cdr.Media) *cdr.Record {
	snap := c.state.snapshot()
	rec := &cdr.Record{
		CallType:     cdr.CallType(c.callType),
		Option:       c.option(),
		CallID:       c.sessionID,
		StartTime:    snap.startTime,
		RingTime:     snap.ringTime,
		AnswerTime:   snap.answerTime,
		EndTime:      time.Now(),
		Caller:       snap.caller,
		Callee:       snap.callee,
		StatusCode:   snap.statusCode,
		HangupReason: &reason,
		Recorder:     recordings,
		Extras:       snap.extras,
	}
	if rec.Extras == nil {
		rec.Extras = make(map[string]any)
	}
	rec.Extras["hangupInitiator"] = initiator
	if snap.endTime != nil {
		rec.EndTime = *snap.endTime
	}
	for _, m := range snap.hangupMsgs {
		rec.HangupMessages = append(rec.HangupMessages, cdr.HangupMessage(m))
	}
	if leg := c.takeReferLeg(); leg != nil {
		end := time.Now()
		if leg.endTime != nil {
			end = *leg.endTime
		}
		rec.ReferCallRecord = &cdr.Record{
			CallType:   cdr.TypeSIP,
			CallID:     c.sessionID + "-refer",
			StartTime:  leg.startTime,
			EndTime:    end,
			Callee:     leg.callee,
			StatusCode: leg.status,
		}
	}
	return rec
}

func (c *ActiveCall) takeReferLeg() *referLeg {
	c.referMu.Lock()
	defer c.referMu.Unlock()
	leg := c.refer
	c.refer = nil
	return leg
}

// stopPlayback cancels any in-flight TTS/Play synthesis immediately.
func (c *ActiveCall) stopPlayback() {
	c.playbackMu.Lock()
	cancel := c.playbackCancel
	c.playbackCancel = nil
	c.playbackMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// asrSender adapts c.stream so media.EventSender-consuming processors report
// back into this call's own SessionEvent stream.
func (c *ActiveCall) asrSender() media.EventSender { return c.stream }
