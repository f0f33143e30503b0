// Package token parses the opaque strings embedded in scannable attendance codes.
//
// Three JSON wire shapes are accepted, plus a bare session key:
//
//	{"class_name": "...", "date": "...", "owner_id": "...", "type": "attendance"}
//	{"event_id": "...", "type": "attendance"}
//	{"qr_token": "...", "event_id": "...", "type": "session"}
//
// Legacy payloads omit the type field and use alternate key spellings
// (className, title, eventId), so dispatch checks type first and falls
// back to structural inspection.
package token

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind discriminates the payload shapes.
type Kind int

const (
	// KindOpaque is a non-JSON token, used whole as a session lookup key.
	KindOpaque Kind = iota
	// KindGrant embeds a class name directly, optionally backed by a stored grant.
	KindGrant
	// KindEvent references a calendar event by id.
	KindEvent
	// KindSession carries a nested session token.
	KindSession
	// KindUnknown is valid JSON matching none of the known shapes.
	KindUnknown
)

// Payload is the parsed form of a scanned token.
type Payload struct {
	Kind         Kind
	ClassName    string
	Date         string
	OwnerID      string
	EventID      string
	SessionToken string
}

// Parse interprets a raw token string. It never fails: tokens that are not
// JSON objects come back as KindOpaque with SessionToken set to the whole
// trimmed string, and JSON objects matching no known shape as KindUnknown.
func Parse(raw string) Payload {
	raw = strings.TrimSpace(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		return Payload{Kind: KindOpaque, SessionToken: raw}
	}

	className := str(fields, "class_name", "className", "title")
	eventID := str(fields, "event_id", "eventId")
	sessionToken := str(fields, "qr_token")
	p := Payload{
		ClassName:    className,
		Date:         str(fields, "date"),
		OwnerID:      str(fields, "owner_id"),
		EventID:      eventID,
		SessionToken: sessionToken,
	}

	switch str(fields, "type") {
	case "session":
		if sessionToken != "" {
			p.Kind = KindSession
			return p
		}
	case "attendance":
		if className != "" {
			p.Kind = KindGrant
			return p
		}
		if eventID != "" {
			p.Kind = KindEvent
			return p
		}
	}

	// Legacy payloads without a usable type field.
	switch {
	case className != "":
		p.Kind = KindGrant
	case eventID != "":
		p.Kind = KindEvent
	case sessionToken != "":
		p.Kind = KindSession
	default:
		p.Kind = KindUnknown
	}
	return p
}

// str returns the first present key coerced to a string. Numeric ids are
// accepted because some legacy issuers encode event ids as JSON numbers.
func str(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
