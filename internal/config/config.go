package config

import (
	"fmt"
	"os"
	"strings"
)

// Default configuration values (production)
const (
	DefaultDomain      = "call.parley.dev"
	DefaultSTUN        = "stun:stun.l.google.com:19302"
	DefaultTURN        = "" // Optional, empty by default
	DefaultTURNUser    = "parley"
	DefaultTURNPass    = "parley-secret"
	DefaultFFmpegPath  = "ffmpeg"
	DefaultCaptureFPS  = 30
	DefaultBitrateKbps = 1200
)

// Config holds client configuration.
type Config struct {
	// Domain is the relay server domain.
	Domain string

	// WebSocketURL is constructed from domain unless overridden.
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Media capture
	FFmpegPath   string
	CameraDevice string
	CaptureFPS   int
	BitrateKbps  int
	NoMedia      bool
}

// Options for loading config with CLI flag overrides.
type Options struct {
	Domain     string
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	FFmpegPath string
	NoMedia    bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := firstNonEmpty(opts.Domain, os.Getenv("PARLEY_DOMAIN"), DefaultDomain)
	stunServer := firstNonEmpty(opts.STUNServer, os.Getenv("PARLEY_STUN_SERVER"), DefaultSTUN)
	turnServer := firstNonEmpty(opts.TURNServer, os.Getenv("PARLEY_TURN_SERVER"), DefaultTURN)
	turnUser := firstNonEmpty(opts.TURNUser, os.Getenv("PARLEY_TURN_USERNAME"), DefaultTURNUser)
	turnPass := firstNonEmpty(opts.TURNPass, os.Getenv("PARLEY_TURN_PASSWORD"), DefaultTURNPass)
	ffmpegPath := firstNonEmpty(opts.FFmpegPath, os.Getenv("PARLEY_FFMPEG"), DefaultFFmpegPath)

	// Empty means the per-platform default device.
	cameraDevice := os.Getenv("PARLEY_CAMERA")

	// Full URL override beats domain construction. Used for local relays
	// (ws://localhost:8080/ws) and tests.
	wsURL := firstNonEmpty(opts.ServerURL, os.Getenv("PARLEY_SERVER"))
	if wsURL == "" {
		wsURL = fmt.Sprintf("wss://%s/ws", domain)
	} else if !strings.HasPrefix(wsURL, "ws://") && !strings.HasPrefix(wsURL, "wss://") {
		return nil, fmt.Errorf("server URL must be a ws:// or wss:// address, got %q", wsURL)
	}

	fps := envIntDefault("PARLEY_CAPTURE_FPS", DefaultCaptureFPS)
	if fps < 1 || fps > 120 {
		return nil, fmt.Errorf("PARLEY_CAPTURE_FPS must be 1-120")
	}
	bitrate := envIntDefault("PARLEY_BITRATE_KBPS", DefaultBitrateKbps)
	if bitrate < 100 {
		return nil, fmt.Errorf("PARLEY_BITRATE_KBPS must be at least 100")
	}

	forceRelay := opts.ForceRelay || envBoolDefault("PARLEY_FORCE_RELAY", false)

	return &Config{
		Domain:       domain,
		WebSocketURL: wsURL,
		STUNServer:   stunServer,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
		ForceRelay:   forceRelay,
		FFmpegPath:   ffmpegPath,
		CameraDevice: cameraDevice,
		CaptureFPS:   fps,
		BitrateKbps:  bitrate,
		NoMedia:      opts.NoMedia,
	}, nil
}

// GetRoomLink returns the browser URL for a room ID.
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
