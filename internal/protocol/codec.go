// Package protocol implements the data-channel control protocol spoken with
// the generative-video backend: outbound parameter and cache-control
// messages, and inbound stream notifications.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Notification types recognized on the inbound side of the data channel.
const (
	NotificationStreamStopped = "stream_stopped"
)

// Notification is a control message pushed by the backend over the data
// channel. Type is the discriminator; the remaining fields depend on it.
type Notification struct {
	Type         string `json:"type"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// cacheControl is the wire shape of a cache directive. reset_cache is only
// honored by the backend when manage_cache is false in the same message.
type cacheControl struct {
	ManageCache bool  `json:"manage_cache"`
	ResetCache  *bool `json:"reset_cache,omitempty"`
}

// EncodeInitial serializes a complete parameter set. Every field is present
// on the wire; this is the form embedded in the offer request.
func EncodeInitial(set ParameterSet) ([]byte, error) {
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameter set: %w", err)
	}
	return json.Marshal(set)
}

// EncodeUpdate serializes a sparse update. Only fields the caller supplied
// appear in the output, so the backend keeps its current values for the
// rest.
func EncodeUpdate(update ParameterUpdate) ([]byte, error) {
	if update.IsEmpty() {
		return nil, fmt.Errorf("empty parameter update")
	}
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameter update: %w", err)
	}
	return json.Marshal(update)
}

// EncodeCacheReset builds the reset directive. The backend contract requires
// manage_cache=false in the same message for reset_cache to take effect.
func EncodeCacheReset() []byte {
	reset := true
	data, _ := json.Marshal(cacheControl{ManageCache: false, ResetCache: &reset})
	return data
}

// EncodeCacheRestore builds the follow-up that re-enables automatic cache
// management after a reset.
func EncodeCacheRestore() []byte {
	data, _ := json.Marshal(cacheControl{ManageCache: true})
	return data
}

// DecodeNotification parses an inbound data-channel message. Messages with
// an unrecognized or missing type return (nil, nil): callers log and move
// on, they are not a protocol failure. A non-nil error means the payload
// was not JSON at all.
func DecodeNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("unparseable notification: %w", err)
	}
	switch n.Type {
	case NotificationStreamStopped:
		return &n, nil
	default:
		return nil, nil
	}
}
