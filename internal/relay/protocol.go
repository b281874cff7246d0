package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ride-relay/internal/models"
)

type MessageType string

const (
	MsgLocationUpdate MessageType = "locationUpdate"
	MsgRequestRide    MessageType = "requestRide"
	MsgPing           MessageType = "ping"

	MsgNearbyDrivers MessageType = "nearbyDrivers"
	MsgPong          MessageType = "pong"
)

const (
	RoleDriver = "driver"
	RoleUser   = "user"
)

// ErrMalformed marks a frame that is not a usable message envelope.
var ErrMalformed = errors.New("malformed message")

// Message is one decoded inbound frame. The concrete type is one of
// LocationUpdate, RideRequest, Ping or Unknown.
type Message interface {
	Type() MessageType
}

type LocationUpdate struct {
	Role      string
	DriverID  string
	Latitude  float64
	Longitude float64
}

type RideRequest struct {
	Role      string
	Latitude  float64
	Longitude float64
}

type Ping struct{}

// Unknown carries a well-formed envelope whose type the relay does not handle.
type Unknown struct {
	Name string
}

func (LocationUpdate) Type() MessageType { return MsgLocationUpdate }
func (RideRequest) Type() MessageType    { return MsgRequestRide }
func (Ping) Type() MessageType           { return MsgPing }
func (u Unknown) Type() MessageType      { return MessageType(u.Name) }

type coords struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// envelope is the union of every inbound field; Decode narrows it.
type envelope struct {
	Type   MessageType `json:"type"`
	Role   string      `json:"role"`
	Driver string      `json:"driver"`
	Data   *coords     `json:"data"`
	coords
}

// Decode parses one inbound frame. Any error wraps ErrMalformed.
func Decode(raw []byte) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case MsgLocationUpdate:
		if env.Driver == "" {
			return nil, fmt.Errorf("%w: locationUpdate without driver", ErrMalformed)
		}
		if env.Data == nil || env.Data.Latitude == nil || env.Data.Longitude == nil {
			return nil, fmt.Errorf("%w: locationUpdate without data.latitude/data.longitude", ErrMalformed)
		}
		return LocationUpdate{
			Role:      env.Role,
			DriverID:  env.Driver,
			Latitude:  *env.Data.Latitude,
			Longitude: *env.Data.Longitude,
		}, nil
	case MsgRequestRide:
		if env.Latitude == nil || env.Longitude == nil {
			return nil, fmt.Errorf("%w: requestRide without latitude/longitude", ErrMalformed)
		}
		return RideRequest{Role: env.Role, Latitude: *env.Latitude, Longitude: *env.Longitude}, nil
	case MsgPing:
		return Ping{}, nil
	default:
		return Unknown{Name: string(env.Type)}, nil
	}
}

// NearbyDriver is the wire form of one ranked candidate.
type NearbyDriver struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
	Distance  float64 `json:"distance"`
}

type NearbyDriversMessage struct {
	Type    MessageType    `json:"type"`
	Drivers []NearbyDriver `json:"drivers"`
	Count   int            `json:"count"`
}

type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// NewNearbyDrivers encodes a ranked result; an empty result is sent as [].
func NewNearbyDrivers(res []models.NearbyDriver) NearbyDriversMessage {
	out := make([]NearbyDriver, 0, len(res))
	for _, r := range res {
		out = append(out, NearbyDriver{
			ID:        r.DriverID,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Timestamp: r.UpdatedAt.UnixMilli(),
			Distance:  r.DistanceMeters,
		})
	}
	return NearbyDriversMessage{Type: MsgNearbyDrivers, Drivers: out, Count: len(out)}
}
