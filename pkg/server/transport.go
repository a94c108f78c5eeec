package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// maxConsecutiveReadErrors bounds how long Serve keeps retrying a socket
// that only returns errors.
const maxConsecutiveReadErrors = 100

// Listen binds the relay socket.
func (s *Server) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: resolve listen addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.conn = conn

	slog.Info("relay listening", "addr", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound socket address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve reads datagrams until the socket is closed, routing each one to
// completion before reading the next. It returns nil on shutdown and an
// error when the socket keeps failing.
func (s *Server) Serve() error {
	if s.conn == nil {
		return fmt.Errorf("server: serve: not listening")
	}

	buf := make([]byte, s.cfg.ReadBuffer)
	var last netip.AddrPort
	failures := 0

	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return nil
			}
			failures++
			s.metrics.ReadErrors.Add(1)
			slog.Warn("receive error", "kind", model.KindTransportFailure, "err", err, "consecutive", failures)
			if failures >= maxConsecutiveReadErrors {
				return fmt.Errorf("server: receive: %w", err)
			}
			if last.IsValid() {
				s.send(s.router.TransportFailure(last))
			}
			continue
		}
		failures = 0
		last = from

		s.metrics.DatagramsIn.Add(1)
		s.metrics.BytesIn.Add(int64(n))
		s.send(s.router.HandleDatagram(from, buf[:n]))
	}
}

// send writes each outbound datagram, following its OnSuccess or OnFailure
// chain. The receive loop and the timeout monitor both call it; UDP writes
// are safe for concurrent use. Only forwards carry a chain, so relay
// outcomes are counted here.
func (s *Server) send(out []Outbound) {
	for _, o := range out {
		next := o.OnSuccess
		if _, err := s.conn.WriteToUDPAddrPort(o.Data, o.To); err != nil {
			s.metrics.SendErrors.Add(1)
			slog.Warn("send failed", "kind", model.KindTransportFailure, "remote", o.To, "err", err)
			next = o.OnFailure
			if next != nil {
				s.metrics.DestinationOffline.Add(1)
			}
		} else {
			s.metrics.DatagramsOut.Add(1)
			s.metrics.BytesOut.Add(int64(len(o.Data)))
			if next != nil {
				s.metrics.MessagesRelayed.Add(1)
			}
		}
		if next != nil {
			s.send([]Outbound{*next})
		}
	}
}
