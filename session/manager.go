package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avchat/roomkit/core"
	"github.com/avchat/roomkit/domain"
)

// ClientFactory builds one external client per room. Injected so hosts can
// swap the default transport for a fake or a proprietary binding.
type ClientFactory func(roomID domain.RoomID) core.SessionClient

// ManagerConfig carries the per-host settings shared by all adapters.
type ManagerConfig struct {
	SignalingURL string
	Identity     string
	Name         string
	NewClient    ClientFactory
}

// RoomInfo is a read-only view for hosts (no transport fields).
type RoomInfo struct {
	RoomID           domain.RoomID        `json:"room_id"`
	State            core.ConnectionState `json:"state"`
	ParticipantCount int                  `json:"participant_count"`
}

// Manager hands out one adapter per room so hosts juggling several rooms
// reuse instances instead of stacking sessions on the same endpoint.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	adapters map[domain.RoomID]*Adapter
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.NewClient == nil {
		return nil, ErrNilClient
	}
	if cfg.SignalingURL == "" {
		return nil, ErrNoURL
	}
	return &Manager{
		cfg:      cfg,
		adapters: make(map[domain.RoomID]*Adapter),
	}, nil
}

// GetOrCreate returns the adapter for the room, creating it on first use.
func (m *Manager) GetOrCreate(roomID domain.RoomID, password string) (*Adapter, error) {
	m.mu.RLock()
	a, ok := m.adapters[roomID]
	m.mu.RUnlock()
	if ok {
		return a, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok = m.adapters[roomID]; ok {
		return a, nil
	}
	a, err := NewAdapter(AdapterConfig{
		RoomID:       roomID,
		SignalingURL: m.cfg.SignalingURL,
		Password:     password,
		Identity:     m.cfg.Identity,
		Name:         m.cfg.Name,
	}, m.cfg.NewClient(roomID))
	if err != nil {
		return nil, err
	}
	m.adapters[roomID] = a
	log.Info().Str("module", "session.manager").Str("room", string(roomID)).Msg("adapter created")
	return a, nil
}

func (m *Manager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.adapters))
	for id, a := range m.adapters {
		out = append(out, RoomInfo{
			RoomID:           id,
			State:            a.ConnectionState(),
			ParticipantCount: len(a.Participants()),
		})
	}
	return out
}

// Stop disconnects the room's adapter and drops it. Idempotent.
func (m *Manager) Stop(roomID domain.RoomID) {
	m.mu.Lock()
	a, ok := m.adapters[roomID]
	if ok {
		delete(m.adapters, roomID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	a.Disconnect()
	log.Info().Str("module", "session.manager").Str("room", string(roomID)).Msg("adapter stopped")
}
