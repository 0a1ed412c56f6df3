package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/screenshot-service/internal/config"
	"github.com/JakeFAU/screenshot-service/internal/render"
)

var (
	errMissingURL = errors.New("url query parameter is required")
	errNullClip   = errors.New("invalid clipRect: must be a JSON object")
)

// parseRequest reads the screenshot query string. Width and height that do not
// parse to a positive integer fall back to the configured defaults; an
// unparsable delay counts as zero. On error the returned request still carries
// every field parsed so far, for the failure log line.
func parseRequest(r *http.Request, defaults config.RenderConfig) (render.Request, error) {
	q := r.URL.Query()
	req := render.Request{
		URL:        q.Get("url"),
		Width:      positiveOr(q.Get("width"), defaults.DefaultWidth),
		Height:     positiveOr(q.Get("height"), defaults.DefaultHeight),
		OriginHost: r.Host,
	}
	if ms, ok := leadingInt(q.Get("delay")); ok && ms > 0 {
		req.SettleDelay = time.Duration(ms) * time.Millisecond
	}
	if req.URL == "" {
		return req, errMissingURL
	}
	if raw := q.Get("clipRect"); raw != "" {
		if strings.TrimSpace(raw) == "null" {
			return req, errNullClip
		}
		var clip render.ClipRect
		if err := json.Unmarshal([]byte(raw), &clip); err != nil {
			return req, fmt.Errorf("invalid clipRect: %w", err)
		}
		req.Clip = &clip
	}
	return req, nil
}

func positiveOr(raw string, def int) int {
	if v, ok := leadingInt(raw); ok && v > 0 {
		return v
	}
	return def
}

// leadingInt parses the optional sign and decimal digits at the start of raw,
// ignoring whatever follows, so "800px" reads as 800.
func leadingInt(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	const limit = 1 << 30
	n, digits := 0, 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		if n < limit {
			n = n*10 + int(s[digits]-'0')
		}
		digits++
	}
	if digits == 0 {
		return 0, false
	}
	if n > limit {
		n = limit
	}
	if neg {
		n = -n
	}
	return n, true
}
