package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/retry"
	"github.com/driftwatch/driftwatch/internal/syncutil"
)

// State is a connection's lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// request is an outgoing frame. Everything except PING carries a nonce.
type request struct {
	Type  string       `json:"type"`
	Nonce string       `json:"nonce,omitempty"`
	Data  *requestData `json:"data,omitempty"`
}

type requestData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token"`
}

// frame is an incoming message. For MESSAGE frames, Data.Message holds the
// actual event as a nested JSON string.
type frame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Nonce string `json:"nonce"`
	Data  struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	} `json:"data"`
}

const writeWait = 10 * time.Second

// Conn is one PubSub connection. Its handler goroutine dials the edge,
// replays the held topics after every (re)connect, exchanges pings and
// routes MESSAGE frames to topic handlers. Topic changes are synced to the
// server as batched LISTEN/UNLISTEN requests.
type Conn struct {
	idx int
	cfg *Config

	topics        *xsync.MapOf[string, *Topic]
	topicsChanged *syncutil.Signal
	connected     *syncutil.Gate
	state         atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// submitted tracks what the current socket is listening to. Owned by
	// the serve loop.
	submitted map[string]bool
}

func newConn(cfg *Config, idx int) *Conn {
	return &Conn{
		idx:           idx,
		cfg:           cfg,
		topics:        xsync.NewMapOf[string, *Topic](),
		topicsChanged: syncutil.NewSignal(),
		connected:     syncutil.NewGate(),
	}
}

// State returns the connection's current lifecycle phase.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Connected reports whether the socket is up.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// WaitConnected blocks until the socket is up or ctx is done.
func (c *Conn) WaitConnected(ctx context.Context) error {
	return c.connected.Wait(ctx)
}

func (c *Conn) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		logx.Debugf("pubsub", "socket %d: %s", c.idx, s)
	}
	if s == StateConnected {
		c.connected.Open()
	} else {
		c.connected.Close()
	}
}

// Start launches the handler goroutine. Calling Start on a running
// connection is a no-op.
func (c *Conn) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
			// previous handler wound down; start a fresh one
		default:
			return
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Stop cancels the handler and waits briefly for it to wind down. With
// remove set, held topics are dropped so a later Start begins empty.
func (c *Conn) Stop(remove bool) {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
	if remove {
		c.topics.Clear()
		c.topicsChanged.Notify()
	}
}

// run is the connect/reconnect loop.
func (c *Conn) run(ctx context.Context) {
	defer c.setState(StateDisconnected)
	c.setState(StateConnecting)
	if err := c.cfg.Creds.AwaitLogin(ctx); err != nil {
		return
	}

	dialer := &websocket.Dialer{HandshakeTimeout: writeWait}
	proxyLabel := "no"
	if c.cfg.ProxyURL != nil {
		if p := c.cfg.ProxyURL(); p != "" {
			if u, err := url.Parse(p); err == nil {
				dialer.Proxy = http.ProxyURL(u)
				proxyLabel = p
			}
		}
	}
	logx.Infof("pubsub", "socket %d connecting with %s proxy", c.idx, proxyLabel)

	bo := retry.NewBackoff(retry.BackoffConfig{Max: reconnectMax})
	for {
		c.setState(StateConnecting)
		ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			if ctx.Err() != nil {
				return
			}
			delay := bo.Next()
			logx.Infof("pubsub", "socket %d connection problem (sleep: %ds)", c.idx, int(delay.Seconds()))
			if c.cfg.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		c.serve(ctx, ws)
		// An established connection resets the backoff, and whatever the
		// next socket will be has to resubscribe everything.
		bo.Reset()
		c.topicsChanged.Notify()
		if ctx.Err() != nil {
			logx.Debugf("pubsub", "socket %d stopped", c.idx)
			return
		}
		c.setState(StateReconnecting)
		logx.Warnf("pubsub", "socket %d reconnecting...", c.idx)
	}
}

// serve owns ws until the connection ends: by cancellation, by a reconnect
// condition (missed PONG, RECONNECT frame, send failure) or by the socket
// dying under us.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	defer ws.Close()
	c.setState(StateConnected)
	c.submitted = make(map[string]bool)

	stop := make(chan struct{})
	defer close(stop)
	frames := make(chan frame, 16)
	readErr := make(chan error, 1)
	go c.readPump(ws, frames, readErr, stop)

	// The first PING goes out right away; its PONG arms the liveness check.
	if err := c.send(ws, request{Type: "PING"}); err != nil {
		logx.Errorf("pubsub", "socket %d: send failed: %v", c.idx, err)
		return
	}
	ping := time.NewTimer(PingInterval)
	defer ping.Stop()
	pong := time.NewTimer(PingTimeout)
	defer pong.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnecting)
			deadline := time.Now().Add(time.Second)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return

		case err := <-readErr:
			if ctx.Err() != nil {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				logx.Warnf("pubsub", "socket %d closed unexpectedly: %d", c.idx, closeErr.Code)
			} else {
				logx.Errorf("pubsub", "socket %d read error: %v", c.idx, err)
			}
			return

		case f := <-frames:
			switch f.Type {
			case "PONG":
				pong.Stop()
			case "MESSAGE":
				if topic, ok := c.topics.Load(f.Data.Topic); ok {
					// fresh goroutine so a slow handler cannot stall receiving
					go topic.Dispatch(json.RawMessage(f.Data.Message))
				}
			case "RESPONSE":
				if f.Error != "" {
					logx.Warnf("pubsub", "socket %d request %s rejected: %s", c.idx, f.Nonce, f.Error)
				}
			case "RECONNECT":
				logx.Warnf("pubsub", "socket %d requested reconnect", c.idx)
				return
			default:
				logx.Warnf("pubsub", "socket %d received unknown payload: %s", c.idx, f.Type)
			}

		case <-ping.C:
			if err := c.send(ws, request{Type: "PING"}); err != nil {
				logx.Errorf("pubsub", "socket %d: send failed: %v", c.idx, err)
				return
			}
			ping.Reset(PingInterval)
			pong.Reset(PingTimeout)

		case <-pong.C:
			logx.Warnf("pubsub", "socket %d didn't receive a PONG, reconnecting...", c.idx)
			return

		case <-c.topicsChanged.C():
			if err := c.syncTopics(ws); err != nil {
				logx.Errorf("pubsub", "socket %d: send failed: %v", c.idx, err)
				return
			}
		}
	}
}

func (c *Conn) readPump(ws *websocket.Conn, frames chan<- frame, readErr chan<- error, stop <-chan struct{}) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		logx.Debugf("pubsub", "socket %d received: %s", c.idx, data)
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			logx.Errorf("pubsub", "socket %d: undecodable frame: %v", c.idx, err)
			continue
		}
		select {
		case frames <- f:
		case <-stop:
			return
		}
	}
}

// syncTopics diffs the held topics against what the current socket listens
// to and issues the LISTEN/UNLISTEN requests covering the difference.
func (c *Conn) syncTopics(ws *websocket.Conn) error {
	current := make(map[string]bool, c.topics.Size())
	c.topics.Range(func(name string, _ *Topic) bool {
		current[name] = true
		return true
	})
	token := c.cfg.Creds.AccessToken()

	var removed []string
	for name := range c.submitted {
		if !current[name] {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		slices.Sort(removed)
		logx.Debugf("pubsub", "socket %d removing topics: %s", c.idx, strings.Join(removed, ", "))
		if err := c.sendBatched(ws, "UNLISTEN", removed, token); err != nil {
			return err
		}
		for _, name := range removed {
			delete(c.submitted, name)
		}
	}

	var added []string
	for name := range current {
		if !c.submitted[name] {
			added = append(added, name)
		}
	}
	if len(added) > 0 {
		slices.Sort(added)
		logx.Debugf("pubsub", "socket %d adding topics: %s", c.idx, strings.Join(added, ", "))
		if err := c.sendBatched(ws, "LISTEN", added, token); err != nil {
			return err
		}
		for _, name := range added {
			c.submitted[name] = true
		}
	}
	return nil
}

func (c *Conn) sendBatched(ws *websocket.Conn, reqType string, topics []string, token string) error {
	for start := 0; start < len(topics); start += listenBatch {
		end := min(start+listenBatch, len(topics))
		req := request{
			Type: reqType,
			Data: &requestData{Topics: topics[start:end], AuthToken: token},
		}
		if err := c.send(ws, req); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) send(ws *websocket.Conn, req request) error {
	if req.Type != "PING" {
		req.Nonce = nonce(30)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	logx.Debugf("pubsub", "socket %d sent: %s", c.idx, data)
	return nil
}

// --- topic bookkeeping (called by the pool) ---

// TopicCount returns how many topics this connection holds.
func (c *Conn) TopicCount() int {
	return c.topics.Size()
}

func (c *Conn) hasTopic(name string) bool {
	_, ok := c.topics.Load(name)
	return ok
}

// takeTopics moves topics out of pending into this connection until it is
// full or pending is empty.
func (c *Conn) takeTopics(pending map[string]*Topic) {
	changed := false
	for name, topic := range pending {
		if c.topics.Size() >= TopicsLimit {
			break
		}
		c.topics.Store(name, topic)
		delete(pending, name)
		changed = true
	}
	if changed {
		c.topicsChanged.Notify()
	}
}

// removeTopics drops any topics named in pending that this connection holds,
// clearing them from pending so other connections skip them.
func (c *Conn) removeTopics(pending map[string]bool) {
	changed := false
	for name := range pending {
		if _, ok := c.topics.LoadAndDelete(name); ok {
			delete(pending, name)
			changed = true
		}
	}
	if changed {
		c.topicsChanged.Notify()
	}
}

// drainTopics removes and returns every held topic.
func (c *Conn) drainTopics() []*Topic {
	var out []*Topic
	c.topics.Range(func(name string, topic *Topic) bool {
		out = append(out, topic)
		c.topics.Delete(name)
		return true
	})
	if len(out) > 0 {
		c.topicsChanged.Notify()
	}
	return out
}
