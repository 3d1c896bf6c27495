package call

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/track"
)

// dispatch applies one Command to call state, applying any state mutation
// the command implies synchronously before returning to the select loop.
// Every handler runs on the single Serve goroutine; none of
// them may block on I/O directly — synthesis/fetch work is handed off to its
// own goroutine that reports back via a SessionEvent or a captured cancel.
func (c *ActiveCall) dispatch(cmd event.Command) {
	c.dumpCommand(cmd)
	switch cmd.Tag {
	case event.CmdInvite:
		c.handleInvite(cmd)
	case event.CmdAccept:
		c.handleAccept(cmd)
	case event.CmdReject:
		c.handleReject(cmd)
	case event.CmdCandidate:
		c.handleCandidate(cmd)
	case event.CmdTts:
		c.handleTts(cmd)
	case event.CmdPlay:
		c.handlePlay(cmd)
	case event.CmdInterrupt:
		c.handleInterrupt(cmd)
	case event.CmdPause:
		c.handlePause(cmd)
	case event.CmdResume:
		c.handleResume(cmd)
	case event.CmdHold:
		c.handleHold(cmd)
	case event.CmdUnhold:
		c.handleUnhold(cmd)
	case event.CmdMute:
		c.handleMute(cmd)
	case event.CmdUnmute:
		c.handleUnmute(cmd)
	case event.CmdRefer:
		c.handleRefer(cmd)
	case event.CmdHangup:
		c.handleHangup(cmd)
	case event.CmdHistory:
		c.handleHistory(cmd)
	case event.CmdDtmf:
		c.handleDtmf(cmd)
	default:
		c.log.Warnw("unknown command tag", "call", c.sessionID, "tag", cmd.Tag)
	}
}

func (c *ActiveCall) reportError(kind string, err error) {
	c.publishNoDialogue(event.SessionEvent{Tag: event.EvError, ErrorKind: kind, ErrorDetail: err.Error()})
}

// handleInvite builds the call's primary track: WebRTC/SIP tracks are
// constructed via TrackFactory, a WebSocket call reuses the track created in
// New. The negotiated local SDP, if any, is returned as an Answer event once
// processors are wired up.
func (c *ActiveCall) handleInvite(cmd event.Command) {
	if cmd.Option == nil {
		c.reportError("invalid_command", fmt.Errorf("invite missing option"))
		return
	}
	c.setOption(cmd.Option)
	c.state.MarkRinging()

	var t track.MediaTrack
	var err error
	switch c.callType {
	case TypeWebSocket:
		t = c.wsTrack
	case TypeWebRTC:
		t, err = c.deps.TrackFactory.NewWebRTCTrack(c.serverTrackID(), cmd.Option.OfferSDP, c.iceServers(cmd.Option))
	case TypeSIP:
		t, err = c.deps.TrackFactory.NewSIPTrack(c.serverTrackID(), cmd.Option.CodecPreference, false)
	}
	if err != nil {
		c.reportError("track_create_failed", err)
		return
	}
	if t == nil {
		c.reportError("track_create_failed", fmt.Errorf("nil track for call type %s", c.callType))
		return
	}

	if err := t.Create(c.ctx); err != nil {
		c.reportError("track_create_failed", err)
		return
	}

	if c.callType != TypeWebSocket {
		c.stream.AddTrack(t)
	}
	c.trackMu.Lock()
	c.serverSideTrackID = t.ID()
	c.trackMu.Unlock()

	c.buildProcessors(t, t.ID(), cmd.Option)

	sdp, err := t.LocalDescription()
	if err != nil {
		c.reportError("sdp_negotiation_failed", err)
		return
	}
	c.state.MarkAnswered(sdp)
	c.publish(event.SessionEvent{Tag: event.EvAnswer, SDP: sdp, TrackID: t.ID()})
}

func (c *ActiveCall) serverTrackID() string {
	if c.serverSideTrackID != "" {
		return c.serverSideTrackID
	}
	return "caller"
}

func (c *ActiveCall) iceServers(opt *event.CallOption) []event.ICEServer {
	if len(opt.ICEServers) > 0 {
		return opt.ICEServers
	}
	return c.deps.ICEServers
}

// handleAccept applies a late-arriving remote description (re-INVITE/answer
// completing negotiation after Invite already built the track).
func (c *ActiveCall) handleAccept(cmd event.Command) {
	t := c.stream.Track(c.serverSideTrackID)
	if t == nil {
		if c.wsTrack != nil {
			t = c.wsTrack
		} else {
			c.reportError("invalid_state", fmt.Errorf("accept before invite"))
			return
		}
	}
	if cmd.Option != nil && cmd.Option.OfferSDP != "" {
		if err := t.UpdateRemoteDescription(c.ctx, cmd.Option.OfferSDP); err != nil {
			c.reportError("sdp_negotiation_failed", err)
			return
		}
	}
	c.state.MarkAnswered(c.state.AnswerSDP())
}

// handleReject cancels an unanswered invite with the given SIP-style status
// code, going through the same terminate path as Hangup.
func (c *ActiveCall) handleReject(cmd event.Command) {
	reason := event.HangupReason{Kind: event.HangupRejected}
	if cmd.Reason != "" {
		reason = event.HangupReason{Kind: event.HangupOther, Other: cmd.Reason}
	}
	c.beginHangup(reason, "callee", cmd.Code)
}

// handleCandidate feeds one trickled ICE candidate to the primary track.
func (c *ActiveCall) handleCandidate(cmd event.Command) {
	t := c.stream.Track(c.serverSideTrackID)
	if t == nil {
		return
	}
	if err := t.UpdateRemoteDescription(c.ctx, cmd.ICE); err != nil {
		c.log.Warnw("candidate apply failed", "call", c.sessionID, "error", err)
	}
}

// handleTts starts (or restarts) playback of synthesized speech on the
// primary track. Synthesis runs on its own goroutine so Serve never blocks;
// PCM chunks are pushed to the track as they arrive ("TTS may
// stream output before synthesis completes").
func (c *ActiveCall) handleTts(cmd event.Command) {
	if cmd.Text == "" {
		return
	}
	provider := "default"
	if opt := c.option(); opt != nil {
		if v, ok := opt.TTS["provider"].(string); ok && v != "" {
			provider = v
		}
	}
	if c.deps.Speech == nil {
		c.reportError("provider_failure", fmt.Errorf("no speech dispatcher configured"))
		return
	}
	tts, err := c.deps.Speech.NewTTSProvider(provider)
	if err != nil {
		c.reportError("provider_failure", err)
		return
	}
	c.startPlayback(cmd.PlayID, cmd.AutoHangup, cmd.WaitInputTimeoutS, func(ctx context.Context, t track.MediaTrack) error {
		return tts.Synthesize(ctx, cmd.Text, cmd.Speaker, media.InternalSampleRate, func(pcm []int16) error {
			frame := media.NewPCMFrame(t.ID(), event.Now().UnixMilli(), media.InternalSampleRate, 1, pcm)
			return t.SendFrame(ctx, &frame)
		})
	})
}

// handlePlay handles a play-by-URL command. No audio fetcher is configured,
// so nothing is fetched or played: the command is reported as an
// "unsupported_command" error event rather than silently dropped.
func (c *ActiveCall) handlePlay(cmd event.Command) {
	c.reportError("unsupported_command", fmt.Errorf("play from url %q: no audio fetcher configured", cmd.URL))
}

// startPlayback runs fn on a fresh goroutine with a cancellable context
// tracked in c.playbackCancel, so Interrupt/Hangup can stop it immediately.
// On natural completion it honors autoHangup and arms the wait-input-timeout
// silence watchdog.
func (c *ActiveCall) startPlayback(playID string, autoHangup bool, waitInputTimeoutS int, fn func(ctx context.Context, t track.MediaTrack) error) {
	t := c.stream.Track(c.serverSideTrackID)
	if t == nil {
		c.reportError("invalid_state", fmt.Errorf("no primary track for playback"))
		return
	}

	c.stopPlayback()

	ctx, cancel := context.WithCancel(c.ctx)
	c.playbackMu.Lock()
	c.playbackCancel = cancel
	c.currentPlayID = playID
	c.playGen++
	gen := c.playGen
	c.playbackMu.Unlock()

	go func() {
		defer cancel()
		err := fn(ctx, t)
		if ctx.Err() != nil {
			return // interrupted or call torn down
		}
		if err != nil {
			c.reportError("provider_failure", err)
			return
		}
		if autoHangup {
			c.beginHangup(event.HangupReason{Kind: event.HangupAutohangup}, "system", 0)
			return
		}
		if waitInputTimeoutS > 0 {
			c.armSilenceWatchdog(gen, waitInputTimeoutS)
		}
	}()
}

// armSilenceWatchdog fires a synthetic EvSilence if no AsrFinal has arrived
// (which bumps playGen, see handleStreamEvent) by the time the timeout
// elapses. gen guards against a watchdog firing for a play that has already
// been superseded by a newer one.
func (c *ActiveCall) armSilenceWatchdog(gen uint64, timeoutS int) {
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(time.Duration(timeoutS) * time.Second):
		}
		c.playbackMu.Lock()
		stillCurrent := c.playGen == gen
		c.playbackMu.Unlock()
		if stillCurrent {
			c.stream.BroadcastEvent(event.SessionEvent{Tag: event.EvSilence, TrackID: c.serverSideTrackID})
		}
	}()
}

// handleInterrupt stops any in-flight playback immediately (// "flushes any queued Tts commands with the same play_id prefix", handled by
// dispatchBatch for same-batch commands; this handles the immediate stop).
func (c *ActiveCall) handleInterrupt(cmd event.Command) {
	c.state.SetInterrupting(true)
	c.stopPlayback()
	c.publish(event.SessionEvent{Tag: event.EvInterruption, Graceful: cmd.Graceful, TrackID: c.serverSideTrackID})
	c.state.SetInterrupting(false)
}

// handlePause mutes the AsrFeed processor on the primary track without
// tearing it down (AsrFeed.SetPaused); distinct from Hold, which
// zeroes the track's inbound audio in its processor chain.
func (c *ActiveCall) handlePause(cmd event.Command) {
	c.setAsrPaused(c.targetTrackID(cmd), true)
}

func (c *ActiveCall) handleResume(cmd event.Command) {
	c.setAsrPaused(c.targetTrackID(cmd), false)
}

// setAsrPaused toggles the AsrFeed processor stashed for trackID by
// buildProcessors. MediaTrack only exposes AppendProcessor/RemoveProcessor by
// name, so pausing (which needs the concrete *media.AsrFeed) goes through
// this side table instead of a remove-and-reappend dance.
func (c *ActiveCall) setAsrPaused(trackID string, paused bool) {
	c.trackMu.Lock()
	a := c.asrFeeds[trackID]
	c.trackMu.Unlock()
	if a != nil {
		a.SetPaused(paused)
	}
}

func (c *ActiveCall) targetTrackID(cmd event.Command) string {
	if cmd.TrackID != "" {
		return cmd.TrackID
	}
	return c.serverSideTrackID
}

// handleHold silences the primary track's inbound audio via its Hold
// processor and marks the call on hold. Outbound playback to the track is
// not paused.
func (c *ActiveCall) handleHold(cmd event.Command) {
	c.setHold(c.targetTrackID(cmd), true)
}

func (c *ActiveCall) handleUnhold(cmd event.Command) {
	c.setHold(c.targetTrackID(cmd), false)
}

func (c *ActiveCall) setHold(trackID string, on bool) {
	c.trackMu.Lock()
	h := c.holds[trackID]
	c.trackMu.Unlock()
	if h == nil {
		return
	}
	h.SetActive(on)
	if trackID == c.serverSideTrackID {
		c.state.SetHold(on)
	}
}

func (c *ActiveCall) handleMute(cmd event.Command) {
	c.setMuted(c.targetTrackID(cmd), true)
}

func (c *ActiveCall) handleUnmute(cmd event.Command) {
	c.setMuted(c.targetTrackID(cmd), false)
}

func (c *ActiveCall) setMuted(trackID string, muted bool) {
	c.trackMu.Lock()
	v := c.volumes[trackID]
	c.trackMu.Unlock()
	if v != nil {
		v.SetMuted(muted)
	}
}

// handleRefer builds a second SIP track in the same MediaStream and bridges
// it to the primary track both ways: a REFER-spawned leg is a second track
// in the same stream. If PauseParentASR is set, the parent's AsrFeed is
// paused and a PendingASRResume is stashed so it can be restored once the
// refer leg ends.
func (c *ActiveCall) handleRefer(cmd event.Command) {
	if c.deps.TrackFactory == nil {
		c.reportError("unsupported_command", fmt.Errorf("refer: no track factory configured"))
		return
	}
	referID := "refer:" + cmd.Callee
	opt := cmd.Refer.Option
	t, err := c.deps.TrackFactory.NewSIPTrack(referID, opt.CodecPreference, false)
	if err != nil {
		c.reportError("track_create_failed", err)
		return
	}
	if err := t.Create(c.ctx); err != nil {
		c.reportError("track_create_failed", err)
		return
	}
	c.stream.AddTrack(t)

	if err := c.stream.ForwardTo(c.serverSideTrackID, referID); err != nil {
		c.log.Warnw("refer forward setup failed", "call", c.sessionID, "error", err)
	}
	if err := c.stream.ForwardTo(referID, c.serverSideTrackID); err != nil {
		c.log.Warnw("refer forward setup failed", "call", c.sessionID, "error", err)
	}

	if cmd.Refer.PauseParentASR {
		c.trackMu.Lock()
		cfg := c.asrConfigs[c.serverSideTrackID]
		c.trackMu.Unlock()
		c.setAsrPaused(c.serverSideTrackID, true)
		c.state.SetPendingASRResume(&PendingASRResume{Config: cfg})
	}

	c.referMu.Lock()
	c.refer = &referLeg{trackID: referID, callee: cmd.Callee, startTime: event.Now()}
	c.referMu.Unlock()
}

// handleReferTrackEnd detects the refer leg's track ending, stops forwarding
// in both directions, restores the parent's ASR feed from any
// PendingASRResume, and records the leg's end time for the nested CDR entry.
func (c *ActiveCall) handleReferTrackEnd(trackID string) {
	c.referMu.Lock()
	leg := c.refer
	isReferLeg := leg != nil && leg.trackID == trackID
	c.referMu.Unlock()
	if !isReferLeg {
		return
	}

	_ = c.stream.StopForwarding(c.serverSideTrackID, trackID)
	_ = c.stream.StopForwarding(trackID, c.serverSideTrackID)

	now := event.Now()
	c.referMu.Lock()
	if c.refer != nil && c.refer.trackID == trackID {
		c.refer.endTime = &now
	}
	c.referMu.Unlock()

	if p := c.state.TakePendingASRResume(); p != nil {
		c.setAsrPaused(c.serverSideTrackID, false)
	}
}

// handleHangup routes a local hangup command through the shared termination
// path; the initiator defaults to "caller" when unspecified, matching a
// command arriving from the call's own control channel. Any configured
// CallOption.HangupHeaders are rendered against the current extras and
// stashed under "_hangup_headers" before termination proceeds, so a
// dialogue-triggered hangup (the "<hangup/>" token) carries its SIP headers
// the same way an explicit Hangup command does.
func (c *ActiveCall) handleHangup(cmd event.Command) {
	initiator := cmd.Initiator
	if initiator == "" {
		initiator = "caller"
	}
	reason := event.HangupReason{Kind: event.HangupByCaller}
	if cmd.Reason != "" {
		reason = event.HangupReason{Kind: event.HangupOther, Other: cmd.Reason}
	}
	if opt := c.option(); opt != nil && len(opt.HangupHeaders) > 0 {
		c.state.SetExtra("_hangup_headers", renderHangupHeaders(opt.HangupHeaders, c.state.ExtrasSnapshot()))
	}
	c.beginHangup(reason, initiator, cmd.Code)
}

var hangupHeaderVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// renderHangupHeaders substitutes each "{{var}}" placeholder in headers'
// values with the matching entry from extras (stringified), leaving a
// placeholder untouched when extras has no such key.
func renderHangupHeaders(headers map[string]string, extras map[string]any) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = hangupHeaderVarPattern.ReplaceAllStringFunc(v, func(match string) string {
			name := hangupHeaderVarPattern.FindStringSubmatch(match)[1]
			if val, ok := extras[name]; ok {
				return fmt.Sprint(val)
			}
			return match
		})
	}
	return out
}

// handleHistory stashes a conversation history replay into call state.
// dialogue.Handler has no dedicated history-injection hook, so it is
// surfaced through Extra for a later dialogue turn to read back.
func (c *ActiveCall) handleHistory(cmd event.Command) {
	c.state.SetExtra("history", cmd.History)
}

// handleDtmf republishes an inbound DTMF command as an EvDtmf SessionEvent so
// the dialogue handler observes it through the same OnEvent path as
// track-originated DTMF, rather than giving commands a second, parallel
// dialogue entry point.
func (c *ActiveCall) handleDtmf(cmd event.Command) {
	c.publish(event.SessionEvent{Tag: event.EvDtmf, Digit: cmd.Digit, TrackID: c.serverSideTrackID})
}
