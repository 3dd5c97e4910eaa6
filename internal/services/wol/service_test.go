package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	wakeFunc func(target string, mac net.HardwareAddr) error
}

func (m *mockSender) Wake(target string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(target, mac)
	}
	return nil
}

type mockDialer struct {
	calls    atomic.Int32
	dialFunc func(attempt int) error
}

func (m *mockDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	attempt := int(m.calls.Add(1))
	if m.dialFunc != nil {
		if err := m.dialFunc(attempt); err != nil {
			return nil, err
		}
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func refused(int) error { return errors.New("connect: connection refused") }

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func baseConfig() models.WOLConfig {
	return models.WOLConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	}
}

func TestWake_NoTarget(t *testing.T) {
	var gotTarget string
	var gotMAC net.HardwareAddr
	sender := &mockSender{wakeFunc: func(target string, mac net.HardwareAddr) error {
		gotTarget, gotMAC = target, mac
		return nil
	}}
	dialer := &mockDialer{}

	result, err := NewWithClients(testLogger(), sender, dialer).Wake(context.Background(), baseConfig())

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.NoError(t, result.Error)
	assert.Equal(t, "192.168.1.255:9", gotTarget)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", gotMAC.String())
	assert.Zero(t, dialer.calls.Load())
}

func TestWake_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.WOLConfig)
		wantErr string
	}{
		{name: "mac", mutate: func(c *models.WOLConfig) { c.MACAddress = "not-a-mac" }, wantErr: "invalid MAC address"},
		{name: "broadcast", mutate: func(c *models.WOLConfig) { c.BroadcastIP = "nowhere" }, wantErr: "invalid broadcast IP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			sent := false
			sender := &mockSender{wakeFunc: func(string, net.HardwareAddr) error { sent = true; return nil }}

			result, err := NewWithClients(testLogger(), sender, &mockDialer{}).Wake(context.Background(), cfg)

			require.NoError(t, err)
			assert.False(t, sent)
			assert.False(t, result.PacketSent)
			assert.ErrorContains(t, result.Error, tt.wantErr)
		})
	}
}

func TestWake_SendFailed(t *testing.T) {
	sender := &mockSender{wakeFunc: func(string, net.HardwareAddr) error { return errors.New("network unreachable") }}

	result, err := NewWithClients(testLogger(), sender, &mockDialer{}).Wake(context.Background(), baseConfig())

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.ErrorContains(t, result.Error, "network unreachable")
}

func TestWake_TargetComesUp(t *testing.T) {
	dialer := &mockDialer{dialFunc: func(attempt int) error {
		if attempt < 3 {
			return errors.New("connect: no route to host")
		}
		return nil
	}}
	cfg := baseConfig()
	cfg.TargetAddr = "192.168.1.100:22"
	cfg.Timeout = 10 * time.Second
	cfg.PollInterval = 5 * time.Millisecond

	result, err := NewWithClients(testLogger(), &mockSender{}, dialer).Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.NoError(t, result.Error)
	assert.Equal(t, int32(3), dialer.calls.Load())
}

func TestWake_Timeout(t *testing.T) {
	cfg := baseConfig()
	cfg.TargetAddr = "192.168.1.100:22"
	cfg.Timeout = 40 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond

	result, err := NewWithClients(testLogger(), &mockSender{}, &mockDialer{dialFunc: refused}).Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.ErrorContains(t, result.Error, "timeout waiting for 192.168.1.100:22")
}

func TestWake_ContextCancelled(t *testing.T) {
	cfg := baseConfig()
	cfg.TargetAddr = "192.168.1.100:22"
	cfg.Timeout = 10 * time.Second
	cfg.PollInterval = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	result, err := NewWithClients(testLogger(), &mockSender{}, &mockDialer{dialFunc: refused}).Wake(ctx, cfg)

	require.NoError(t, err)
	assert.False(t, result.TargetReady)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestWake_StabilizeWait(t *testing.T) {
	cfg := baseConfig()
	cfg.TargetAddr = "192.168.1.100:22"
	cfg.Timeout = time.Second
	cfg.PollInterval = 5 * time.Millisecond
	cfg.StabilizeWait = 40 * time.Millisecond

	result, err := NewWithClients(testLogger(), &mockSender{}, &mockDialer{}).Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.GreaterOrEqual(t, result.WaitDuration, cfg.StabilizeWait)
}
