// Package stream implements MediaStream: the per-call registry
// of MediaTracks, fanning frames from one track's processor chain to its
// peer's egress.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
	"github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/track"
)

// forwarder bridges a track's chain output to its peer's SendFrame. It
// implements media.Processor so it can be appended like any other chain
// stage, keeping "forward to peer" a configurable step rather than a
// hardwired behavior.
type forwarder struct {
	peerID string
	peer   track.MediaTrack
}

func (f *forwarder) Name() string { return "forward:" + f.peerID }

func (f *forwarder) ProcessFrame(ctx context.Context, frame *media.AudioFrame) error {
	if f.peer == nil {
		return nil
	}
	return f.peer.SendFrame(ctx, frame)
}

// MediaStream owns every MediaTrack belonging to one call and wires
// cross-track forwarding ("if configured, forward the resulting
// frame to the peer track's egress" — a REFER-spawned leg is a second track
// in the same stream).
type MediaStream struct {
	mu     sync.RWMutex
	log    logx.Logger
	tracks map[string]track.MediaTrack
	events chan event.SessionEvent

	wg sync.WaitGroup
}

// New builds an empty stream.
func New(log logx.Logger) *MediaStream {
	return &MediaStream{
		log:    log,
		tracks: make(map[string]track.MediaTrack),
		events: make(chan event.SessionEvent, 256),
	}
}

// AddTrack registers t and starts relaying its SessionEvents onto the
// stream's shared event channel.
func (s *MediaStream) AddTrack(t track.MediaTrack) {
	s.mu.Lock()
	s.tracks[t.ID()] = t
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range t.Events() {
			select {
			case s.events <- ev:
			default:
				s.log.Warnw("stream event channel full, dropping event", "track", t.ID(), "event", ev.Tag)
			}
		}
	}()
}

// RemoveTrack unregisters and closes the named track.
func (s *MediaStream) RemoveTrack(id string) error {
	s.mu.Lock()
	t, ok := s.tracks[id]
	if ok {
		delete(s.tracks, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream: unknown track %q", id)
	}
	return t.Close()
}

// Track returns the named track, or nil if absent.
func (s *MediaStream) Track(id string) track.MediaTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracks[id]
}

// Tracks returns a snapshot of every registered track ID.
func (s *MediaStream) Tracks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	return ids
}

// AppendProcessor adds p to trackID's chain.
func (s *MediaStream) AppendProcessor(trackID string, p media.Processor) error {
	t := s.Track(trackID)
	if t == nil {
		return fmt.Errorf("stream: unknown track %q", trackID)
	}
	t.AppendProcessor(p)
	return nil
}

// RemoveProcessor removes the named processor from trackID's chain.
func (s *MediaStream) RemoveProcessor(trackID, name string) error {
	t := s.Track(trackID)
	if t == nil {
		return fmt.Errorf("stream: unknown track %q", trackID)
	}
	t.RemoveProcessor(name)
	return nil
}

// ForwardTo appends a forwarding processor to fromID's chain that sends every
// resulting frame to toID's egress (peer forwarding; also used to
// bridge a REFER leg's audio back to the parent track).
func (s *MediaStream) ForwardTo(fromID, toID string) error {
	from, to := s.Track(fromID), s.Track(toID)
	if from == nil {
		return fmt.Errorf("stream: unknown track %q", fromID)
	}
	if to == nil {
		return fmt.Errorf("stream: unknown track %q", toID)
	}
	from.AppendProcessor(&forwarder{peerID: toID, peer: to})
	return nil
}

// StopForwarding removes fromID's forwarding processor to toID.
func (s *MediaStream) StopForwarding(fromID, toID string) error {
	from := s.Track(fromID)
	if from == nil {
		return fmt.Errorf("stream: unknown track %q", fromID)
	}
	from.RemoveProcessor("forward:" + toID)
	return nil
}

// BroadcastEvent pushes ev onto the stream's shared event channel, for
// engine-originated events (e.g. Hangup) that don't come from a track.
func (s *MediaStream) BroadcastEvent(ev event.SessionEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warnw("stream event channel full, dropping broadcast event", "event", ev.Tag)
	}
}

// Send implements media.EventSender, so a MediaStream can be passed directly
// to NewAsrFeed/NewVAD/NewInactivity as the sink their background goroutines
// report SessionEvents to.
func (s *MediaStream) Send(ev event.SessionEvent) {
	s.BroadcastEvent(ev)
}

// Events returns the stream's merged event channel.
func (s *MediaStream) Events() <-chan event.SessionEvent { return s.events }

// Close closes every registered track and waits for relay goroutines to exit.
func (s *MediaStream) Close() {
	s.mu.Lock()
	tracks := make([]track.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	s.tracks = make(map[string]track.MediaTrack)
	s.mu.Unlock()

	for _, t := range tracks {
		if err := t.Close(); err != nil {
			s.log.Warnw("error closing track", "track", t.ID(), "error", err)
		}
	}
	s.wg.Wait()
}
