package call

import (
	"time"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/media"
	"github.com/restsend/active-call/internal/track"
)

// decodeAsrConfig reads CallOption.ASR's free-form map into the typed
// AsrConfig the media.AsrFeed processor and SpeechDispatcher expect.
func decodeAsrConfig(m map[string]any) AsrConfig {
	cfg := AsrConfig{}
	if m == nil {
		return cfg
	}
	if v, ok := m["provider"].(string); ok {
		cfg.Provider = v
	}
	if v, ok := m["language"].(string); ok {
		cfg.Language = v
	}
	if v, ok := m["streaming"].(bool); ok {
		cfg.Streaming = v
	}
	if v, ok := m["punctuation"].(bool); ok {
		cfg.Punctuation = v
	}
	if v, ok := m["vocab"].([]string); ok {
		cfg.Vocab = v
	} else if v, ok := m["vocab"].([]any); ok {
		for _, s := range v {
			if str, ok := s.(string); ok {
				cfg.Vocab = append(cfg.Vocab, str)
			}
		}
	}
	return cfg
}

func decodeVADConfig(m map[string]any) media.VADConfig {
	cfg := media.VADConfig{}
	if m == nil {
		return cfg
	}
	if v, ok := m["provider"].(string); ok {
		cfg.Provider = v
	}
	if v, ok := m["thresholdDb"].(float64); ok {
		cfg.ThresholdDB = v
	}
	if v, ok := m["hangoverMs"].(float64); ok {
		cfg.HangoverMs = int(v)
	}
	if v, ok := m["paddingMs"].(float64); ok {
		cfg.PaddingMs = int(v)
	}
	return cfg
}

func decodeRecorderConfig(m map[string]any) media.RecorderConfig {
	cfg := media.RecorderConfig{}
	if m == nil {
		return cfg
	}
	if v, ok := m["enabled"].(bool); ok {
		cfg.Enabled = v
	}
	if v, ok := m["directRtp"].(bool); ok {
		cfg.DirectRTP = v
	}
	return cfg
}

// buildProcessors wires every built-in processor CallOption asks for onto
// t's chain, in the fixed order Denoise -> VAD -> Hold -> AsrFeed ->
// VolumeControl -> Ambiance -> Recorder -> Inactivity. It
// returns the AsrConfig actually used, so a later Refer can snapshot and
// restore it via pending_asr_resume.
func (c *ActiveCall) buildProcessors(t track.MediaTrack, trackID string, opt *event.CallOption) AsrConfig {
	t.AppendProcessor(media.NewDenoise(trackID, nil, opt.Denoise))

	vadCfg := decodeVADConfig(opt.VAD)
	var classifier media.VADClassifier
	if c.deps.Speech != nil && vadCfg.Provider != "" {
		if cl, err := c.deps.Speech.NewVADClassifier(vadCfg.Provider); err == nil {
			classifier = cl
		} else {
			c.log.Warnw("vad provider init failed, falling back to fail-open", "call", c.sessionID, "error", err)
		}
	}
	t.AppendProcessor(media.NewVAD(trackID, vadCfg, classifier, c.asrSender()))

	hold := media.NewHold(trackID)
	t.AppendProcessor(hold)

	asrCfg := decodeAsrConfig(opt.ASR)
	var asrClient media.AsrClient
	if c.deps.Speech != nil && asrCfg.Provider != "" {
		if cl, err := c.deps.Speech.NewASRClient(asrCfg, trackID, c.asrSender()); err == nil {
			asrClient = cl
		} else {
			c.log.Warnw("asr provider init failed, asr disabled for track", "call", c.sessionID, "track", trackID, "error", err)
		}
	}
	feed := media.NewAsrFeed(trackID, media.AsrConfig(asrCfg), asrClient, c.asrSender())
	t.AppendProcessor(feed)

	vol := media.NewVolumeControl(trackID)
	t.AppendProcessor(vol)

	c.trackMu.Lock()
	c.asrConfigs[trackID] = asrCfg
	c.asrFeeds[trackID] = feed
	c.holds[trackID] = hold
	c.volumes[trackID] = vol
	c.trackMu.Unlock()

	if opt.Ambiance != nil && opt.Ambiance.Enabled {
		merged := opt.Ambiance.Merge(event.DefaultAmbianceOption())
		t.AppendProcessor(media.NewAmbiance(trackID, nil, merged))
	}

	recCfg := decodeRecorderConfig(opt.Recorder)
	rec := media.NewRecorder(trackID, recCfg, c.log)
	rec.Start()
	t.AppendProcessor(rec)
	c.trackMu.Lock()
	if c.recorders == nil {
		c.recorders = make(map[string]*media.Recorder)
	}
	c.recorders[trackID] = rec
	c.trackMu.Unlock()

	t.AppendProcessor(media.NewInactivity(c.ctx, trackID, defaultInactivityTimeout, c.asrSender()))

	return asrCfg
}

const defaultInactivityTimeout = 60 * time.Second
