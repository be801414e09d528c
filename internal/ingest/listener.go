// Package ingest receives node telemetry datagrams over UDP and applies
// them to the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tomek7667/rendermon/internal/domain"
	"github.com/tomek7667/rendermon/internal/message"
)

// DefaultAddr is the address render nodes report to.
const DefaultAddr = ":43217"

// maxDatagram comfortably exceeds any telemetry line a node sends. Longer
// datagrams are dropped as malformed.
const maxDatagram = 2048

// Store is the part of the aggregate the listener writes to.
type Store interface {
	Apply(sample domain.NodeSample, now time.Time)
	RecordMalformed()
}

type Listener struct {
	addr  string
	store Store
	log   *zap.Logger
	now   func() time.Time

	ready chan net.Addr
}

func New(addr string, st Store, logger *zap.Logger) *Listener {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		addr:  addr,
		store: st,
		log:   logger,
		now:   time.Now,
		ready: make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once Serve is listening.
func (l *Listener) Ready() <-chan net.Addr {
	return l.ready
}

// Serve reads datagrams until ctx is cancelled. A malformed datagram is
// counted and dropped; it never stops the loop.
func (l *Listener) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", l.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", l.addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	l.log.Info("listening for node telemetry", zap.String("addr", conn.LocalAddr().String()))
	l.ready <- conn.LocalAddr()

	buf := make([]byte, maxDatagram+1)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn("udp read failed", zap.Error(err))
			continue
		}
		l.Handle(buf[:n], from, l.now())
	}
}

// Handle parses one datagram and applies it at now.
func (l *Listener) Handle(data []byte, from net.Addr, now time.Time) {
	if len(data) > maxDatagram {
		l.store.RecordMalformed()
		l.log.Debug("dropping oversized datagram", zap.Stringer("from", from), zap.Int("size", len(data)))
		return
	}
	if !utf8.Valid(data) {
		l.store.RecordMalformed()
		l.log.Debug("dropping non utf-8 datagram", zap.Stringer("from", from))
		return
	}

	sample, err := message.Parse(string(data))
	if err != nil {
		l.store.RecordMalformed()
		l.log.Debug("dropping malformed datagram", zap.Stringer("from", from), zap.Error(err))
		return
	}
	l.store.Apply(sample, now)
}
