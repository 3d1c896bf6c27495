package media

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/restsend/active-call/internal/event"
)

func defaultAmbianceOptForTest() event.AmbianceOption {
	return event.AmbianceOption{DuckLevel: 0.1, NormalLevel: 0.3, TransitionSpeed: 0.01, Enabled: true}
}

// TestRecorderDirectRTPPCMULength verifies that a single 160-byte PCMU RTP
// frame yields a WAV of exactly 44+160 bytes at 8kHz.
func TestRecorderDirectRTPPCMULength(t *testing.T) {
	r := NewRecorder("t1", RecorderConfig{Enabled: true, DirectRTP: true}, nil)
	r.Start()

	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = byte(i)
	}
	f := AudioFrame{TrackID: "t1", SampleRate: 8000, Channels: 1, Samples: RTPSamples(1, 0, payload)}
	if err := r.ProcessFrame(context.Background(), &f); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}

	wav, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(wav) != 44+160 {
		t.Fatalf("expected %d bytes, got %d", 44+160, len(wav))
	}
	gotRate := binary.LittleEndian.Uint32(wav[24:28])
	if gotRate != 8000 {
		t.Fatalf("expected 8000Hz header, got %d", gotRate)
	}
}

func TestRecorderNoChunksReturnsNil(t *testing.T) {
	r := NewRecorder("t1", RecorderConfig{Enabled: true}, nil)
	wav, err := r.Finalize()
	if err != nil || wav != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", wav, err)
	}
}

func TestHoldZeroesPreservingLength(t *testing.T) {
	h := NewHold("t1")
	h.SetActive(true)
	pcm := []int16{1, 2, 3, -4}
	f := AudioFrame{Samples: PCMSamples(pcm)}
	if err := h.ProcessFrame(context.Background(), &f); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if len(f.Samples.PCM) != 4 {
		t.Fatalf("expected length preserved, got %d", len(f.Samples.PCM))
	}
	for _, s := range f.Samples.PCM {
		if s != 0 {
			t.Fatalf("expected all-zero samples, got %v", f.Samples.PCM)
		}
	}
}

func TestAmbianceEmptyFrameBecomesPCM(t *testing.T) {
	loop := make([]int16, InternalSampleRate) // 1s of ambience
	for i := range loop {
		loop[i] = 100
	}
	a := NewAmbiance("t1", loop, defaultAmbianceOptForTest())
	f := AudioFrame{SampleRate: InternalSampleRate, Channels: 1, Samples: EmptySamples()}
	if err := a.ProcessFrame(context.Background(), &f); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if f.Samples.Kind != SamplesPCM {
		t.Fatalf("expected PCM frame, got kind %v", f.Samples.Kind)
	}
	wantLen := (InternalSampleRate * 20) / 1000
	if len(f.Samples.PCM) != wantLen {
		t.Fatalf("expected %d samples (20ms), got %d", wantLen, len(f.Samples.PCM))
	}
}
