package chat

import (
	"net/url"
	"strings"
)

// ClipErrorCode classifies clip resolution failures. The codes are surfaced
// to the viewer as a plain-language chat reply, never as a hard failure.
type ClipErrorCode int

const (
	ClipErrInvalidURL ClipErrorCode = iota + 1
	ClipErrNotFound
	ClipErrNotOwned
	ClipErrGeneric
)

// ClipError is a typed clip resolution failure.
type ClipError struct {
	Code ClipErrorCode
}

func (e *ClipError) Error() string {
	switch e.Code {
	case ClipErrInvalidURL:
		return "invalid clip url"
	case ClipErrNotFound:
		return "clip not found"
	case ClipErrNotOwned:
		return "clip does not belong to this channel"
	default:
		return "clip resolution failed"
	}
}

// Message returns the viewer-facing chat reply for the failure.
func (e *ClipError) Message() string {
	switch e.Code {
	case ClipErrInvalidURL:
		return "That doesn't look like a Twitch clip link."
	case ClipErrNotFound:
		return "I couldn't find that clip."
	case ClipErrNotOwned:
		return "That clip is from another channel."
	default:
		return "Something went wrong fetching that clip, try again."
	}
}

// ParseClipSlug extracts the clip slug from the URL forms Twitch hands out:
//
//	https://clips.twitch.tv/<slug>
//	https://www.twitch.tv/<channel>/clip/<slug>
//
// A bare slug (no scheme, no slashes) is accepted as-is.
func ParseClipSlug(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ClipError{Code: ClipErrInvalidURL}
	}
	if !strings.Contains(raw, "/") && !strings.Contains(raw, ".") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", &ClipError{Code: ClipErrInvalidURL}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch host {
	case "clips.twitch.tv":
		if len(parts) >= 1 && parts[0] != "" {
			return parts[0], nil
		}
	case "twitch.tv", "m.twitch.tv":
		// /<channel>/clip/<slug>
		if len(parts) >= 3 && parts[1] == "clip" && parts[2] != "" {
			return parts[2], nil
		}
	}
	return "", &ClipError{Code: ClipErrInvalidURL}
}
