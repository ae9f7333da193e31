// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/systerel/S2OPC-sub041/ua"
)

// ErrServerTooBusy is returned when the maximum number of channels is open.
var ErrServerTooBusy = ua.NewError(ua.BadTCPServerTooBusy, "too many secure channels")

// ChannelManager manages the secure channels for a server.
type ChannelManager struct {
	sync.Mutex
	server       *Server
	channelsByID *xsync.MapOf[uint32, *serverSecureChannel]
	lastID       uint32
}

// NewChannelManager instantiates a new ChannelManager.
func NewChannelManager(server *Server) *ChannelManager {
	m := &ChannelManager{server: server, channelsByID: xsync.NewMapOf[uint32, *serverSecureChannel]()}
	go func(m *ChannelManager) {
		ticker := time.NewTicker(server.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkForClosedChannels()
			case <-m.server.closed:
				m.closeChannels()
				return
			}
		}
	}(m)
	return m
}

// Get a secure channel from the server.
func (m *ChannelManager) Get(id uint32) (*serverSecureChannel, bool) {
	return m.channelsByID.Load(id)
}

// Add assigns a channel id to the secure channel and adds it to the server.
func (m *ChannelManager) Add(ch *serverSecureChannel) error {
	m.Lock()
	defer m.Unlock()
	if max := m.server.maxChannelCount; max > 0 && m.channelsByID.Size() >= max {
		return ErrServerTooBusy
	}
	// skip zero and ids still in use
	for {
		m.lastID++
		if m.lastID == 0 {
			continue
		}
		if _, ok := m.channelsByID.Load(m.lastID); !ok {
			break
		}
	}
	ch.channelID = m.lastID
	m.channelsByID.Store(ch.channelID, ch)
	return nil
}

// Delete the secure channel from the server.
func (m *ChannelManager) Delete(ch *serverSecureChannel) {
	m.channelsByID.Delete(ch.channelID)
}

// Len returns the number of secure channel.
func (m *ChannelManager) Len() int {
	return m.channelsByID.Size()
}

// checkForClosedChannels removes the released channels and lets the
// others drop their expired tokens.
func (m *ChannelManager) checkForClosedChannels() {
	m.channelsByID.Range(func(id uint32, ch *serverSecureChannel) bool {
		if ch.Closed() {
			m.channelsByID.Delete(id)
			m.server.log.Debug("deleted closed channel", "channelID", id, "open", m.channelsByID.Size())
			return true
		}
		ch.tick()
		return true
	})
}

func (m *ChannelManager) closeChannels() {
	m.channelsByID.Range(func(id uint32, ch *serverSecureChannel) bool {
		ch.Close()
		return true
	})
}
