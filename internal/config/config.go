// Package config loads process configuration for cmd/server via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ICEServer mirrors a WebRTC STUN/TURN server entry.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// CDRBackend selects the CDR persistence target.
type CDRBackend struct {
	Kind string `mapstructure:"kind"` // "local", "s3", "http"

	Root string `mapstructure:"root"` // local

	Vendor    string `mapstructure:"vendor"` // s3: aws, gcp, azure, aliyun, tencent, minio, digitalocean
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Endpoint  string `mapstructure:"endpoint"`

	URL     string            `mapstructure:"url"` // http
	Headers map[string]string `mapstructure:"headers"`

	WithMedia      bool `mapstructure:"with_media"`
	KeepMediaCopy  bool `mapstructure:"keep_media_copy"`
	MaxConcurrent  int  `mapstructure:"max_concurrent"`
}

// LLM configures the optional scripted/LLM dialogue handler attached to a
// call at invite time (expanded). Enabled false means calls run
// media-only: the WebSocket/WebRTC client drives TTS/play itself via
// explicit commands instead of a server-side dialogue loop.
type LLM struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Prompt   string `mapstructure:"prompt"`
	Greeting string `mapstructure:"greeting"`
}

// Config is the complete process configuration.
type Config struct {
	BindAddr     string        `mapstructure:"bind_addr"`
	LogFile      string        `mapstructure:"log_file"`
	Debug        bool          `mapstructure:"debug"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	DumpEvents   bool          `mapstructure:"dump_events"`
	ICEServers   []ICEServer   `mapstructure:"ice_servers"`
	CDR          CDRBackend    `mapstructure:"cdr"`
	LLM          LLM           `mapstructure:"llm"`

	// SIPLocalIP and SIPRTPPortMin/Max bound the RTP socket AppState's
	// TrackFactory binds for each SIP leg.
	SIPLocalIP    string `mapstructure:"sip_local_ip"`
	SIPRTPPortMin int    `mapstructure:"sip_rtp_port_min"`
	SIPRTPPortMax int    `mapstructure:"sip_rtp_port_max"`

	// SIPBindAddr is where the SIP UAS listens for INVITE/ACK/BYE over UDP.
	SIPBindAddr string `mapstructure:"sip_bind_addr"`
}

// Default returns configuration with the documented defaults
// (ping_interval=20s, dump_events=true, cdr max_concurrent=64).
func Default() *Config {
	return &Config{
		BindAddr:     ":8080",
		PingInterval: 20 * time.Second,
		DumpEvents:   true,
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		CDR:           CDRBackend{Kind: "local", Root: "./cdr", MaxConcurrent: 64},
		SIPLocalIP:    "0.0.0.0",
		SIPRTPPortMin: 20000,
		SIPRTPPortMax: 30000,
		SIPBindAddr:   "0.0.0.0:5060",
	}
}

// Load reads configuration from the given file path (if non-empty) and from
// VOICEAGENT_-prefixed environment variables, overlaying Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("VOICEAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.CDR.MaxConcurrent <= 0 {
		cfg.CDR.MaxConcurrent = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	return cfg, nil
}
