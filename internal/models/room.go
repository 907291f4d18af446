package models

// DefaultMaxEvents is the retention cap applied to rooms without an override.
const DefaultMaxEvents = 1000

// AgentConfig describes one agent in a room's roster.
type AgentConfig struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Avatar       string   `json:"avatar"`
	Color        string   `json:"color"`
	Role         string   `json:"role,omitempty"`
	Desc         string   `json:"desc,omitempty"`
	Soul         string   `json:"soul,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Room is the stored configuration of a tenant room.
type Room struct {
	RoomID    string        `json:"roomId"`
	Name      string        `json:"name"`
	Agents    []AgentConfig `json:"agents"`
	APIKey    string        `json:"apiKey"`
	Created   int64         `json:"created"` // Unix ms
	MaxEvents int           `json:"maxEvents,omitempty"`
}

// PublicRoom is a Room without its API key. It is the only shape handed
// to unauthenticated readers.
type PublicRoom struct {
	RoomID    string        `json:"roomId"`
	Name      string        `json:"name"`
	Agents    []AgentConfig `json:"agents"`
	Created   int64         `json:"created"`
	MaxEvents int           `json:"maxEvents,omitempty"`
}

// Public returns the redacted form of the room.
func (r *Room) Public() *PublicRoom {
	agents := r.Agents
	if agents == nil {
		agents = []AgentConfig{}
	}
	return &PublicRoom{
		RoomID:    r.RoomID,
		Name:      r.Name,
		Agents:    agents,
		Created:   r.Created,
		MaxEvents: r.MaxEvents,
	}
}

// EffectiveMaxEvents returns the room's retention cap.
func (r *Room) EffectiveMaxEvents() int {
	if r == nil || r.MaxEvents <= 0 {
		return DefaultMaxEvents
	}
	return r.MaxEvents
}
