package client

import (
	"sync"

	"chat-gateway/internal/models"
	"chat-gateway/internal/proto"
)

// Provider shares one Conn between every consumer in a process. The first
// consumer to Acquire owns the connection and is the only one whose release
// closes it.
type Provider struct {
	opts Options

	mu        sync.Mutex
	conn      *Conn
	userID    int64
	announced int64
}

func NewProvider(opts Options) *Provider {
	return &Provider{opts: opts}
}

// Acquire returns the shared connection, connecting on first use. The release
// func closes the connection when called by the owner, at most once; for every
// other consumer it does nothing.
func (p *Provider) Acquire() (*Conn, func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return p.conn, func() error { return nil }
	}

	conn := Connect(p.opts)
	p.conn = conn
	_ = p.announceLocked()

	var once sync.Once
	var err error
	release := func() error {
		once.Do(func() {
			p.mu.Lock()
			if p.conn == conn {
				p.conn = nil
				p.announced = 0
			}
			p.mu.Unlock()
			err = conn.Close()
		})
		return err
	}
	return conn, release
}

// SetUser records the signed-in user. When the user becomes known the
// provider announces it ONLINE once; repeated calls for the same user do
// nothing. Zero clears it.
func (p *Provider) SetUser(userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.userID = userID
	if userID == 0 {
		p.announced = 0
		return nil
	}
	return p.announceLocked()
}

func (p *Provider) announceLocked() error {
	if p.conn == nil || p.userID == 0 || p.userID == p.announced {
		return nil
	}
	err := p.conn.Emit(proto.EventPresenceUpdate, proto.PresenceUpdate{
		UserID:   p.userID,
		Presence: models.PresenceOnline,
	})
	if err != nil {
		return err
	}
	p.announced = p.userID
	return nil
}
