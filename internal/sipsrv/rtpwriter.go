package sipsrv

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// GenerateSSRC returns a cryptographically random 32-bit SSRC, per RFC 3550.
func GenerateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

// GenerateSequenceStart returns a random initial RTP sequence number.
func GenerateSequenceStart() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// GenerateTimestampStart returns a random initial RTP timestamp.
func GenerateTimestampStart() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// SamplesPerFrame returns the codec's sample count for a 20ms frame.
func (c Codec) SamplesPerFrame() int {
	return int(c.ClockRate) * 20 / 1000
}

// TimestampIncrement is the RTP timestamp advance per 20ms frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// RTPStreamWriter paces outbound RTP packets at the codec's frame interval
// and advances sequence/timestamp automatically.
type RTPStreamWriter struct {
	mu         sync.Mutex
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	ssrc       uint32
	pt         uint8
	seq        uint16
	timestamp  uint32
	codec      Codec
	ticker     *time.Ticker
	closed     bool
}

// NewRTPStreamWriter builds a writer bound to conn/remote, pacing at the
// codec's 20ms frame interval with randomized SSRC/sequence/timestamp.
func NewRTPStreamWriter(conn *net.UDPConn, remote *net.UDPAddr, codec Codec) *RTPStreamWriter {
	return &RTPStreamWriter{
		conn:       conn,
		remoteAddr: remote,
		ssrc:       GenerateSSRC(),
		pt:         codec.PayloadType,
		seq:        GenerateSequenceStart(),
		timestamp:  GenerateTimestampStart(),
		codec:      codec,
		ticker:     time.NewTicker(20 * time.Millisecond),
	}
}

// Write blocks until the next pacing tick, then sends payload as one RTP
// packet and advances sequence/timestamp.
func (w *RTPStreamWriter) Write(payload []byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("sipsrv: write on closed RTPStreamWriter")
	}
	ticker := w.ticker
	w.mu.Unlock()

	<-ticker.C

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("sipsrv: write on closed RTPStreamWriter")
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    w.pt,
			SequenceNumber: w.seq,
			Timestamp:      w.timestamp,
			SSRC:           w.ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("sipsrv: marshal rtp packet: %w", err)
	}
	if _, err := w.conn.WriteToUDP(buf, w.remoteAddr); err != nil {
		return fmt.Errorf("sipsrv: write rtp packet: %w", err)
	}
	w.seq++
	w.timestamp += w.codec.TimestampIncrement()
	return nil
}

// WritePayload sends payload immediately bypassing pacing, with an explicit
// marker bit — used for DTMF and talkspurt-start packets.
func (w *RTPStreamWriter) WritePayload(payload []byte, marker bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("sipsrv: write on closed RTPStreamWriter")
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    w.pt,
			SequenceNumber: w.seq,
			Timestamp:      w.timestamp,
			SSRC:           w.ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("sipsrv: marshal rtp packet: %w", err)
	}
	_, err = w.conn.WriteToUDP(buf, w.remoteAddr)
	w.seq++
	return err
}

func (w *RTPStreamWriter) SetPayloadType(pt uint8) { w.mu.Lock(); w.pt = pt; w.mu.Unlock() }
func (w *RTPStreamWriter) SSRC() uint32             { w.mu.Lock(); defer w.mu.Unlock(); return w.ssrc }
func (w *RTPStreamWriter) SequenceNumber() uint16    { w.mu.Lock(); defer w.mu.Unlock(); return w.seq }

// Close idempotently stops the pacing ticker.
func (w *RTPStreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.ticker.Stop()
	return nil
}
