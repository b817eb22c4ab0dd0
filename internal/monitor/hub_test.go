//go:build test

package monitor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/monitor"
	"github.com/srg/blex/internal/testutils"
)

type HubTestSuite struct {
	suitelib.Suite

	logger  *logrus.Logger
	stream  *monitor.Stream
	hub     *monitor.Hub
	central *explorer.Central
	server  *httptest.Server
	cancel  context.CancelFunc
	stopped chan struct{}
}

func (suite *HubTestSuite) SetupTest() {
	suite.logger = testutils.NewTestHelper(suite.T()).Logger
	suite.stream = monitor.NewStream(64, suite.logger)
	suite.hub = monitor.NewHub(suite.stream.Events(), monitor.HubOptions{Logger: suite.logger})
	suite.central = explorer.NewCentral(explorer.Options{
		Radio:      testutils.NewRadioRecorder(),
		Delegate:   suite.stream,
		Dispatcher: explorer.InlineDispatcher,
		Logger:     suite.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.stopped = make(chan struct{})
	go func() {
		defer close(suite.stopped)
		suite.hub.Run(ctx)
	}()
	suite.server = httptest.NewServer(suite.hub.Handler())
}

func (suite *HubTestSuite) TearDownTest() {
	suite.cancel()
	<-suite.stopped
	suite.server.Close()
	suite.central.Close()
	suite.stream.Close()
}

// dial connects a WebSocket client and waits until the hub has registered it.
func (suite *HubTestSuite) dial() *websocket.Conn {
	want := suite.hub.Clients() + 1
	url := "ws" + strings.TrimPrefix(suite.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	suite.Require().NoError(err, "MUST dial monitor")
	suite.Require().Eventually(func() bool { return suite.hub.Clients() == want }, time.Second, 5*time.Millisecond)
	return conn
}

// readUntil reads events until one of type t arrives.
func (suite *HubTestSuite) readUntil(conn *websocket.Conn, t monitor.EventType) json.RawMessage {
	suite.Require().NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		var raw json.RawMessage
		suite.Require().NoError(conn.ReadJSON(&raw), "MUST receive %s", t)
		var head struct {
			Type monitor.EventType `json:"type"`
		}
		suite.Require().NoError(json.Unmarshal(raw, &head))
		if head.Type == t {
			return raw
		}
	}
}

func (suite *HubTestSuite) TestBroadcast() {
	// GOAL: Verify every connected client receives the same delegate events
	//
	// TEST SCENARIO: two clients → power on → both receive powered_on

	first := suite.dial()
	defer first.Close()
	second := suite.dial()
	defer second.Close()

	suite.central.StateChanged(explorer.StatePoweredOn)

	for _, conn := range []*websocket.Conn{first, second} {
		raw := suite.readUntil(conn, monitor.TypePoweredOn)
		testutils.NewJSONAsserter(suite.T()).Assert(string(raw), `{"type": "powered_on", "state": "poweredOn", "seq": "<<PRESENCE>>", "time": "<<PRESENCE>>"}`)
	}
}

func (suite *HubTestSuite) TestClientGone() {
	conn := suite.dial()

	suite.Require().NoError(conn.Close())

	suite.Eventually(func() bool { return suite.hub.Clients() == 0 }, time.Second, 5*time.Millisecond, "closed client MUST be unregistered")
	suite.central.StateChanged(explorer.StatePoweredOn)
}

func (suite *HubTestSuite) TestShutdownClosesClients() {
	conn := suite.dial()
	defer conn.Close()

	suite.cancel()
	<-suite.stopped

	suite.Require().NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	suite.True(websocket.IsCloseError(err, websocket.CloseGoingAway), "client MUST receive going-away close, got %v", err)
	suite.Equal(0, suite.hub.Clients())
}

func (suite *HubTestSuite) TestHealthz() {
	resp, err := http.Get(suite.server.URL + "/healthz")
	suite.Require().NoError(err)
	defer resp.Body.Close()

	suite.Equal(http.StatusOK, resp.StatusCode)
}

func (suite *HubTestSuite) TestServe() {
	hub := monitor.NewHub(make(chan monitor.Event), monitor.HubOptions{Logger: suite.logger})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- hub.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		suite.NoError(err, "graceful shutdown MUST not report an error")
	case <-time.After(2 * time.Second):
		suite.Fail("Serve MUST return after cancel")
	}
}

func TestHubTestSuite(t *testing.T) {
	suitelib.Run(t, new(HubTestSuite))
}
