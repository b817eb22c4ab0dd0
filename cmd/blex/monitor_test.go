//go:build test

package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/gorilla/websocket"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blex/internal/monitor"
)

type MonitorTestSuite struct {
	CommandTestSuite
}

// freeAddr returns a loopback address nothing listens on.
func (suite *MonitorTestSuite) freeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	suite.Require().NoError(err)
	addr := l.Addr().String()
	suite.Require().NoError(l.Close())
	return addr
}

func (suite *MonitorTestSuite) TestMonitorStreamsEvents() {
	// GOAL: Verify monitor streams staging, connection, and discovery events to WebSocket clients
	//
	// TEST SCENARIO: client attaches → advertisement released → --connect peripheral is connected → client sees staged, connected, ready

	suite.Serve(TestPeripheral1, suite.HeartRateProfile())

	// Hold advertisements back until the client is attached.
	release := make(chan struct{})
	replay := suite.Device.ScanFunc
	suite.Device.ScanFunc = func(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return replay(ctx, allowDup, h)
	}

	addr := suite.freeAddr()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// cobra keeps the first context a subcommand saw
	monitorCmd.SetContext(ctx)
	defer monitorCmd.SetContext(context.Background())
	done := make(chan error, 1)
	go func() {
		rootCmd.SetArgs([]string{"monitor", "--addr", addr, "--connect", TestPeripheral1})
		done <- rootCmd.ExecuteContext(ctx)
	}()

	suite.Require().Eventually(func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond, "monitor MUST start listening")

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	suite.Require().NoError(err, "client MUST attach")
	defer conn.Close()
	close(release)

	seen := map[monitor.EventType]monitor.Event{}
	suite.Require().NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		suite.Require().NoError(err, "events MUST keep arriving until the peripheral is ready")
		var ev monitor.Event
		suite.Require().NoError(json.Unmarshal(data, &ev))
		seen[ev.Type] = ev
		if ev.Type == monitor.TypeReady {
			break
		}
	}

	suite.Contains(seen, monitor.TypeState, "staging MUST be streamed")
	suite.Contains(seen, monitor.TypeConnected, "connection MUST be streamed")
	suite.Equal(TestPeripheral1, seen[monitor.TypeReady].Peripheral)

	cancel()
	select {
	case err := <-done:
		suite.NoError(err, "monitor MUST stop cleanly on cancel")
	case <-time.After(5 * time.Second):
		suite.Fail("monitor MUST stop on cancel")
	}
}

func TestMonitorTestSuite(t *testing.T) {
	suitelib.Run(t, new(MonitorTestSuite))
}
