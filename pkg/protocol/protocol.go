package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// Subprotocol is the WebSocket sub-protocol token of the operator channel
	Subprotocol = "iconograph-master"

	// MasterPath is the server path of the operator channel
	MasterPath = "/ws/master"
)

// MessageType is the envelope discriminator
type MessageType string

const (
	TypeImageTypes  MessageType = "image_types"
	TypeReport      MessageType = "report"
	TypeTargets     MessageType = "targets"
	TypeNewManifest MessageType = "new_manifest"
	TypeCommand     MessageType = "command"
)

// ErrMalformed is returned for frames that cannot be decoded
var ErrMalformed = errors.New("malformed message")

// Message is one decoded inbound message. The set of implementations is closed:
// ImageTypes, Report, Targets, NewManifest and Unknown.
type Message interface {
	Type() MessageType
	isMessage()
}

// ImageTypes carries the full current set of image type names
type ImageTypes struct {
	Names []string
}

// Report is one instance's latest status snapshot
type Report struct {
	// Envelope fields added by the server when relaying
	ID       string `json:"-"`
	Received int64  `json:"-"`
	Client   string `json:"-"`

	ImageType     string `json:"image_type"`
	Hostname      string `json:"hostname"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     int64  `json:"timestamp"`
	VolumeID      string `json:"volume_id"`
	NextTimestamp int64  `json:"next_timestamp"`
	NextVolumeID  string `json:"next_volume_id"`
	Status        string `json:"status"`
}

// Targets carries the full current set of hostnames that accept commands
type Targets struct {
	Hostnames []string
}

// NewManifest notifies that an image type's manifest changed
type NewManifest struct {
	ImageType string
}

// Unknown is any message whose type is not recognised. It is ignored.
type Unknown struct {
	Kind string
}

func (ImageTypes) Type() MessageType  { return TypeImageTypes }
func (Report) Type() MessageType      { return TypeReport }
func (Targets) Type() MessageType     { return TypeTargets }
func (NewManifest) Type() MessageType { return TypeNewManifest }
func (u Unknown) Type() MessageType   { return MessageType(u.Kind) }

func (ImageTypes) isMessage()  {}
func (Report) isMessage()      {}
func (Targets) isMessage()     {}
func (NewManifest) isMessage() {}
func (Unknown) isMessage()     {}

type envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	ID       string          `json:"id,omitempty"`
	Received int64           `json:"received,omitempty"`
	Client   json.RawMessage `json:"client,omitempty"`
}

// Decode parses one inbound frame into its Message variant.
// Unrecognised types decode to Unknown without error.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch MessageType(env.Type) {
	case TypeImageTypes:
		var data struct {
			ImageTypes *[]string `json:"image_types"`
		}
		if err := decodeData(env, &data); err != nil {
			return nil, err
		}
		if data.ImageTypes == nil {
			return nil, fmt.Errorf("%w: image_types: missing image_types", ErrMalformed)
		}
		return ImageTypes{Names: *data.ImageTypes}, nil

	case TypeReport:
		var r Report
		if err := decodeData(env, &r); err != nil {
			return nil, err
		}
		if r.ImageType == "" || r.Hostname == "" {
			return nil, fmt.Errorf("%w: report: image_type and hostname are required", ErrMalformed)
		}
		r.ID = env.ID
		r.Received = env.Received
		r.Client = clientString(env.Client)
		return r, nil

	case TypeTargets:
		var data struct {
			Targets *[]string `json:"targets"`
		}
		if err := decodeData(env, &data); err != nil {
			return nil, err
		}
		if data.Targets == nil {
			return nil, fmt.Errorf("%w: targets: missing targets", ErrMalformed)
		}
		return Targets{Hostnames: *data.Targets}, nil

	case TypeNewManifest:
		var data struct {
			ImageType string `json:"image_type"`
		}
		if err := decodeData(env, &data); err != nil {
			return nil, err
		}
		if data.ImageType == "" {
			return nil, fmt.Errorf("%w: new_manifest: missing image_type", ErrMalformed)
		}
		return NewManifest{ImageType: data.ImageType}, nil

	default:
		return Unknown{Kind: env.Type}, nil
	}
}

func decodeData(env envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: %s: missing data", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return nil
}

// clientString flattens the relaying peer address, which the server sends
// either as a string or as a [host, port] pair.
func clientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var pair []any
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) == 2 {
		return fmt.Sprintf("%v:%v", pair[0], pair[1])
	}
	return string(raw)
}
