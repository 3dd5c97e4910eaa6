// Package wol wakes a sleeping export host and waits until it accepts
// connections.
package wol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// discardPort is the UDP port magic packets are sent to.
const discardPort = 9

// dialTimeout bounds a single readiness probe.
const dialTimeout = 3 * time.Second

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// PacketSender sends magic packets.
type PacketSender interface {
	Wake(target string, mac net.HardwareAddr) error
}

// Dialer opens TCP connections to probe the target.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// UDPSender sends magic packets with mdlayher/wol.
type UDPSender struct{}

// Wake sends a magic packet for mac to target (ip:port).
func (UDPSender) Wake(target string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(target, mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	sender PacketSender
	dialer Dialer
	logger zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClients(logger, UDPSender{}, &net.Dialer{Timeout: dialTimeout})
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, sender PacketSender, dialer Dialer) *Impl {
	return &Impl{
		sender: sender,
		dialer: dialer,
		logger: logger,
	}
}

// Wake sends the magic packet and, when TargetAddr is set, polls it until a
// TCP connection succeeds. Failures are reported in the result.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()
	finish := func(err error) (*models.WOLResult, error) {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil
	}

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		return finish(fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err))
	}
	ip := net.ParseIP(cfg.BroadcastIP)
	if ip == nil {
		return finish(fmt.Errorf("invalid broadcast IP %q", cfg.BroadcastIP))
	}

	s.logger.Info().
		Str("mac", mac.String()).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.sender.Wake(net.JoinHostPort(ip.String(), strconv.Itoa(discardPort)), mac); err != nil {
		return finish(err)
	}
	result.PacketSent = true

	if cfg.TargetAddr == "" {
		result.TargetReady = true
		return finish(nil)
	}

	s.logger.Info().
		Str("target", cfg.TargetAddr).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for export host")

	if err := s.poll(ctx, cfg); err != nil {
		return finish(err)
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("waiting for export host to settle")
		timer := time.NewTimer(cfg.StabilizeWait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return finish(ctx.Err())
		case <-timer.C:
		}
	}

	result.TargetReady = true
	s.logger.Info().Dur("duration", time.Since(start)).Msg("export host is up")
	return finish(nil)
}

func (s *Impl) poll(ctx context.Context, cfg models.WOLConfig) error {
	deadline := time.Now().Add(cfg.Timeout)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s after %d attempts", cfg.TargetAddr, attempt-1)
		}

		conn, err := s.dialer.DialContext(ctx, "tcp", cfg.TargetAddr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		s.logger.Debug().Err(err).Int("attempt", attempt).Msg("export host not reachable yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
