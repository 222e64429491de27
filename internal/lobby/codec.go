package lobby

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/SIgmaboy6796/game2/internal/config"
)

var ErrMissingType = errors.New("message has no type")

// frame is the flat wire shape shared by every message.
type frame struct {
	Type      string   `json:"type" msgpack:"type"`
	Players   []Player `json:"players,omitempty" msgpack:"players,omitempty"`
	PeerID    string   `json:"peerId,omitempty" msgpack:"peerId,omitempty"`
	Nametag   string   `json:"nametag,omitempty" msgpack:"nametag,omitempty"`
	Position  *Vec3    `json:"position,omitempty" msgpack:"position,omitempty"`
	Velocity  *Vec3    `json:"velocity,omitempty" msgpack:"velocity,omitempty"`
	Origin    *Vec3    `json:"origin,omitempty" msgpack:"origin,omitempty"`
	Direction *Vec3    `json:"direction,omitempty" msgpack:"direction,omitempty"`
	WeaponID  string   `json:"weaponId,omitempty" msgpack:"weaponId,omitempty"`
}

// Codec turns messages into data channel payloads and back.
type Codec interface {
	Name() string
	Marshal(m Message) ([]byte, error)
	Unmarshal(data []byte) (Message, error)
}

// NewCodec returns the codec for a serialization name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", config.SerializationBinary:
		return BinaryCodec{}, nil
	case config.SerializationJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown serialization %q", name)
	}
}

// BinaryCodec frames messages with msgpack.
type BinaryCodec struct{}

func (BinaryCodec) Name() string { return config.SerializationBinary }

func (BinaryCodec) Marshal(m Message) ([]byte, error) {
	return msgpack.Marshal(toFrame(m))
}

func (BinaryCodec) Unmarshal(data []byte) (Message, error) {
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode msgpack message: %w", err)
	}
	return fromFrame(f)
}

// JSONCodec frames messages as JSON text.
type JSONCodec struct{}

func (JSONCodec) Name() string { return config.SerializationJSON }

func (JSONCodec) Marshal(m Message) ([]byte, error) {
	return json.Marshal(toFrame(m))
}

func (JSONCodec) Unmarshal(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode json message: %w", err)
	}
	return fromFrame(f)
}

func toFrame(m Message) frame {
	f := frame{Type: m.Type()}
	switch v := m.(type) {
	case Welcome:
		f.Players = v.Players
	case NewPlayer:
		f.PeerID = v.Player.PeerID
		f.Nametag = v.Player.Nametag
	case PlayerList:
		f.Players = v.Players
	case PlayerLeft:
		f.PeerID = v.PeerID
	case PlayerState:
		f.PeerID = v.PeerID
		f.Position = &v.Position
		f.Velocity = &v.Velocity
		f.WeaponID = v.WeaponID
	case Shoot:
		f.PeerID = v.PeerID
		f.Origin = &v.Origin
		f.Direction = &v.Direction
		f.Velocity = &v.Velocity
		f.WeaponID = v.WeaponID
	}
	return f
}

func fromFrame(f frame) (Message, error) {
	switch f.Type {
	case "":
		return nil, ErrMissingType
	case TypeWelcome:
		return Welcome{Players: f.Players}, nil
	case TypeNewPlayer:
		return NewPlayer{Player: Player{PeerID: f.PeerID, Nametag: f.Nametag}}, nil
	case TypePlayerList:
		return PlayerList{Players: f.Players}, nil
	case TypePlayerListUpdated:
		return PlayerList{Players: f.Players, Updated: true}, nil
	case TypePlayerLeft:
		return PlayerLeft{PeerID: f.PeerID}, nil
	case TypePlayerState:
		return PlayerState{PeerID: f.PeerID, Position: vec(f.Position), Velocity: vec(f.Velocity), WeaponID: f.WeaponID}, nil
	case TypeShoot:
		return Shoot{PeerID: f.PeerID, Origin: vec(f.Origin), Direction: vec(f.Direction), Velocity: vec(f.Velocity), WeaponID: f.WeaponID}, nil
	default:
		return Unknown{Kind: f.Type}, nil
	}
}

func vec(v *Vec3) Vec3 {
	if v == nil {
		return Vec3{}
	}
	return *v
}
