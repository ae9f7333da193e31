// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"net"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func newTestChannel(t *testing.T, srv *Server) *serverSecureChannel {
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return newServerSecureChannel(srv, c1)
}

func TestChannelManagerAdd(t *testing.T) {
	srv, err := New("opc.tcp://127.0.0.1:4840", WithMaxChannelCount(2))
	assert.NilError(t, err)
	m := srv.ChannelManager()

	a, b, c := newTestChannel(t, srv), newTestChannel(t, srv), newTestChannel(t, srv)
	assert.NilError(t, m.Add(a))
	assert.NilError(t, m.Add(b))
	assert.Equal(t, a.ChannelID(), uint32(1))
	assert.Equal(t, b.ChannelID(), uint32(2))

	err = m.Add(c)
	assert.Assert(t, errors.Is(err, ErrServerTooBusy))
	assert.Equal(t, m.Len(), 2)

	m.Delete(a)
	_, ok := m.Get(1)
	assert.Assert(t, !ok)
	assert.NilError(t, m.Add(c))
	assert.Equal(t, c.ChannelID(), uint32(3))
	got, ok := m.Get(3)
	assert.Assert(t, ok)
	assert.Equal(t, got, c)
}

func TestChannelManagerSkipsUsedIDs(t *testing.T) {
	srv, err := New("opc.tcp://127.0.0.1:4840")
	assert.NilError(t, err)
	m := srv.ChannelManager()

	a := newTestChannel(t, srv)
	assert.NilError(t, m.Add(a))
	assert.Equal(t, a.ChannelID(), uint32(1))

	// wrap around to an id still in use
	m.lastID = ^uint32(0)
	b := newTestChannel(t, srv)
	assert.NilError(t, m.Add(b))
	assert.Equal(t, b.ChannelID(), uint32(2))
}

func TestChannelManagerSweep(t *testing.T) {
	srv, err := New("opc.tcp://127.0.0.1:4840")
	assert.NilError(t, err)
	m := srv.ChannelManager()

	a, b := newTestChannel(t, srv), newTestChannel(t, srv)
	assert.NilError(t, m.Add(a))
	assert.NilError(t, m.Add(b))
	a.closed.Store(true)
	m.checkForClosedChannels()
	assert.Equal(t, m.Len(), 1)
	_, ok := m.Get(b.ChannelID())
	assert.Assert(t, ok)
}

func TestReviseLifetime(t *testing.T) {
	srv, err := New("opc.tcp://127.0.0.1:4840", WithMaxTokenLifetime(600000))
	assert.NilError(t, err)
	ch := &serverSecureChannel{srv: srv}
	cases := []struct {
		requested uint32
		want      uint32
	}{
		{0, 600000},
		{1000, minTokenLifetime},
		{minTokenLifetime, minTokenLifetime},
		{60000, 60000},
		{600000, 600000},
		{3600000, 600000},
	}
	for _, c := range cases {
		assert.Equal(t, ch.reviseLifetime(c.requested), c.want, "requested %d", c.requested)
	}
}

func TestAcceptPolicy(t *testing.T) {
	srv, err := New("opc.tcp://127.0.0.1:4840")
	assert.NilError(t, err)
	assert.Assert(t, srv.acceptPolicy("http://opcfoundation.org/UA/SecurityPolicy#None"))
	assert.Assert(t, !srv.acceptPolicy("http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"))
}
