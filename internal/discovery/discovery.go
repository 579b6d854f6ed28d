// Package discovery finds peers on the local network.
//
// A Service runs two loops: one broadcasts this node's Announcement every
// Interval, the other listens for announcements from others and merges them
// into a Directory.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanchat/internal/identity"
	"lanchat/internal/wire"
)

const (
	DefaultPort     = 8889
	DefaultInterval = 5 * time.Second
)

// Config describes the local node and the discovery sockets.
type Config struct {
	Username  string
	ChatPort  int
	PublicKey string // encoded with identity.PublicKeyToString

	// ListenAddr is the UDP address announcements are received on.
	ListenAddr string
	// BroadcastAddr overrides broadcast address resolution.
	BroadcastAddr string
	// Port is the discovery port announcements are sent to.
	Port int

	Interval time.Duration
	Window   time.Duration
}

// Service owns the discovery sockets and the peer directory.
type Service struct {
	cfg Config
	dir *Directory
	log *zap.Logger

	// OnJoin is called from the listen loop when a peer appears. It must
	// not block for long.
	OnJoin func(PeerRecord)

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Service. now may be nil.
func New(cfg Config, log *zap.Logger, now func() time.Time) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%d", cfg.Port)
	}
	return &Service{
		cfg: cfg,
		dir: NewDirectory(cfg.Window, now),
		log: log.Named("discovery"),
	}
}

// Directory exposes the peer directory for queries.
func (s *Service) Directory() *Directory { return s.dir }

// Start binds the listen socket and launches both loops. A bind failure is
// returned. A broadcast address that cannot be resolved only disables the
// broadcast loop.
func (s *Service) Start(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp4", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve discovery address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("bind discovery port: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.listen(ctx, conn)

	bcast, err := ResolveBroadcast(s.cfg.BroadcastAddr, s.cfg.Port)
	if err != nil {
		s.log.Error("broadcast disabled", zap.Error(err))
	} else {
		s.log.Info("discovery started",
			zap.Stringer("listen", conn.LocalAddr()),
			zap.Stringer("broadcast", bcast))
		s.wg.Add(1)
		go s.announce(ctx, conn, bcast)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return nil
}

// Stop closes the socket and waits for both loops to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Addr returns the bound listen address, or nil before Start.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Service) announce(ctx context.Context, conn *net.UDPConn, to *net.UDPAddr) {
	defer s.wg.Done()

	msg, err := wire.Announcement{
		Username:  s.cfg.Username,
		Port:      s.cfg.ChatPort,
		PublicKey: s.cfg.PublicKey,
	}.Marshal()
	if err != nil {
		s.log.Error("encode announcement", zap.Error(err))
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := conn.WriteToUDP(msg, to); err != nil && ctx.Err() == nil {
			s.log.Debug("announce failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) listen(ctx context.Context, conn *net.UDPConn) {
	defer s.wg.Done()

	buf := make([]byte, wire.MaxAnnouncementSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("discovery read error", zap.Error(err))
			continue
		}
		s.handleAnnouncement(buf[:n], from)
	}
}

// handleAnnouncement merges one received packet into the directory.
// Malformed packets and self announcements are dropped.
func (s *Service) handleAnnouncement(data []byte, from *net.UDPAddr) {
	a, err := wire.ParseAnnouncement(data)
	if err != nil {
		s.log.Debug("dropped announcement", zap.Stringer("from", from), zap.Error(err))
		return
	}
	if a.Username == s.cfg.Username {
		return
	}
	pub, err := identity.StringToPublicKey(a.PublicKey)
	if err != nil {
		s.log.Debug("dropped announcement", zap.String("peer", a.Username), zap.Error(err))
		return
	}

	rec := PeerRecord{
		Username:  a.Username,
		Address:   from.IP.String(),
		Port:      a.Port,
		PublicKey: pub,
		KeyString: a.PublicKey,
	}
	if s.dir.Upsert(rec) {
		s.log.Info("peer joined", zap.String("peer", rec.Username), zap.String("addr", rec.Address), zap.Int("port", rec.Port))
		if s.OnJoin != nil {
			s.OnJoin(rec)
		}
	}
}
