package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	APIBaseURL  string
	WSEndpoint  string
	AgentID     string
	SendTimeout time.Duration

	// Devserver listen address.
	HTTPAddress string

	// Optional turn-audio archival.
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	base := os.Getenv("API_BASE_URL")
	if base == "" {
		base = "http://localhost:8000"
	}
	base = strings.TrimRight(base, "/")

	ws := os.Getenv("WS_ENDPOINT")
	if ws == "" {
		ws = deriveWSEndpoint(base)
	}

	timeout := 30 * time.Second
	if raw := os.Getenv("SEND_TIMEOUT"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Printf("Warning: invalid SEND_TIMEOUT %q - using default", raw)
		} else {
			timeout = time.Duration(secs) * time.Second
		}
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8000"
	}

	bucket := os.Getenv("SUPABASE_BUCKET")
	if bucket == "" {
		bucket = "conversations"
	}

	return Config{
		APIBaseURL:         base,
		WSEndpoint:         ws,
		AgentID:            os.Getenv("AGENT_ID"),
		SendTimeout:        timeout,
		HTTPAddress:        addr,
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     bucket,
	}
}

// ArchiveEnabled reports whether Supabase archival credentials are present.
func (c Config) ArchiveEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// ResolveAudioURL joins a possibly relative audio reference against the API base.
func (c Config) ResolveAudioURL(ref string) string {
	return ResolveAudioURL(c.APIBaseURL, ref)
}

// ResolveAudioURL joins ref against base, tolerating a trailing slash on base
// and a missing leading slash on ref. Absolute references pass through untouched.
func ResolveAudioURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return base + ref
}

// deriveWSEndpoint maps an http(s) base URL to the backend's ws(s) endpoint.
func deriveWSEndpoint(base string) string {
	ws := base
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/ws/conversation"
}
