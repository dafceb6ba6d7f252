package relay

import (
	"encoding/json"
	"fmt"
)

// BulbInfo is one device as reported by the relay's listing endpoint.
type BulbInfo struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

// ListReply is the reply to the /bulbs listing query.
type ListReply struct {
	Bulbs []BulbInfo `json:"bulbs"`
	Count int        `json:"count"`
}

// ActionReply is the reply to an actuation command. Success=false means
// the relay understood the command but could not execute it; the
// exchange itself still succeeded.
type ActionReply struct {
	Success bool   `json:"success"`
	Bulb    string `json:"bulb"`
	Action  string `json:"action"`
	Error   string `json:"error,omitempty"`
}

// ParseListReply decodes a listing reply frame.
func ParseListReply(data []byte) (*ListReply, error) {
	var reply ListReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrInvalidReply, err)
	}
	return &reply, nil
}

// ParseActionReply decodes an actuation reply frame.
func ParseActionReply(data []byte) (*ActionReply, error) {
	var reply ActionReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("%w: action: %w", ErrInvalidReply, err)
	}
	return &reply, nil
}

// isJSONLine reports whether a received line looks like, and parses as,
// a JSON document. Anything else on the wire (boot banners, debug
// prints, truncated fragments) is noise to be skipped.
func isJSONLine(line []byte) bool {
	if len(line) == 0 {
		return false
	}
	if line[0] != '{' && line[0] != '[' {
		return false
	}
	return json.Valid(line)
}
