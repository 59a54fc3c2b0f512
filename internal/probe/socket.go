package probe

import (
    "context"
    "encoding/json"
    "errors"
    "sync"
    "time"

    "github.com/park285/cheese-arena/pkg/arenadto"
    "nhooyr.io/websocket"
    "nhooyr.io/websocket/wsjson"
)

// State of a Socket.
type State int

const (
    StateDisconnected State = iota
    StateConnecting
    StateConnected
    StateReconnecting
    StateFailed
)

func (s State) String() string {
    switch s {
    case StateConnecting:
        return "connecting"
    case StateConnected:
        return "connected"
    case StateReconnecting:
        return "reconnecting"
    case StateFailed:
        return "failed"
    default:
        return "disconnected"
    }
}

var ErrNotConnected = errors.New("socket not connected")

type MessageCallback func(env arenadto.Envelope)
type StateCallback func(State)

// Socket is an arena WebSocket session that redials with backoff after the connection
// drops, up to maxReconnect attempts.
type Socket struct {
    url string

    conn  *websocket.Conn
    state State
    mu    sync.RWMutex

    onMessage MessageCallback
    onState   StateCallback

    maxReconnect int
    pingInterval time.Duration

    stopCh   chan struct{}
    stopOnce sync.Once
    wg       sync.WaitGroup

    rootCtx    context.Context
    rootCancel context.CancelFunc
}

func NewSocket(url string, maxReconnect int) *Socket {
    ctx, cancel := context.WithCancel(context.Background())
    return &Socket{
        url:          url,
        maxReconnect: maxReconnect,
        pingInterval: 30 * time.Second,
        stopCh:       make(chan struct{}),
        rootCtx:      ctx,
        rootCancel:   cancel,
    }
}

// OnMessage and OnStateChange must be set before Connect.
func (s *Socket) OnMessage(cb MessageCallback) { s.onMessage = cb }

func (s *Socket) OnStateChange(cb StateCallback) { s.onState = cb }

func (s *Socket) State() State {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return s.state
}

func (s *Socket) Connect(ctx context.Context) error {
    if st := s.State(); st == StateConnected || st == StateConnecting {
        return nil
    }
    s.setState(StateConnecting)
    conn, err := s.dial(ctx)
    if err != nil {
        s.setState(StateFailed)
        s.scheduleReconnect()
        return err
    }
    s.attach(conn)
    return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
    dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    conn, _, err := websocket.Dial(dialCtx, s.url, nil)
    return conn, err
}

func (s *Socket) attach(conn *websocket.Conn) {
    s.mu.Lock()
    s.conn = conn
    s.mu.Unlock()
    s.setState(StateConnected)
    s.wg.Add(2)
    go s.listen(conn)
    go s.pingLoop(conn)
}

// Send writes one event frame. data may be nil.
func (s *Socket) Send(ctx context.Context, event string, data any) error {
    s.mu.RLock()
    conn := s.conn
    s.mu.RUnlock()
    if conn == nil {
        return ErrNotConnected
    }
    env := arenadto.Envelope{Event: event}
    if data != nil {
        raw, err := json.Marshal(data)
        if err != nil {
            return err
        }
        env.Data = raw
    }
    return wsjson.Write(ctx, conn, env)
}

func (s *Socket) listen(conn *websocket.Conn) {
    defer s.wg.Done()
    for {
        var env arenadto.Envelope
        if err := wsjson.Read(s.rootCtx, conn, &env); err != nil {
            if s.isStopping() {
                return
            }
            s.drop(conn, "reconnect")
            return
        }
        if cb := s.onMessage; cb != nil {
            cb(env)
        }
    }
}

func (s *Socket) pingLoop(conn *websocket.Conn) {
    defer s.wg.Done()
    t := time.NewTicker(s.pingInterval)
    defer t.Stop()
    failures := 0
    for {
        select {
        case <-s.stopCh:
            return
        case <-s.rootCtx.Done():
            return
        case <-t.C:
            if s.currentConn() != conn {
                return
            }
            ctx, cancel := context.WithTimeout(s.rootCtx, 3*time.Second)
            err := conn.Ping(ctx)
            cancel()
            if err == nil {
                failures = 0
                continue
            }
            failures++
            if failures >= 2 {
                if !s.isStopping() {
                    s.drop(conn, "ping failure")
                }
                return
            }
        }
    }
}

func (s *Socket) currentConn() *websocket.Conn {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return s.conn
}

// drop closes conn if it is still current and starts reconnecting.
func (s *Socket) drop(conn *websocket.Conn, reason string) {
    s.mu.Lock()
    if s.conn != conn {
        s.mu.Unlock()
        return
    }
    s.conn = nil
    s.mu.Unlock()
    _ = conn.Close(websocket.StatusGoingAway, reason)
    s.setState(StateDisconnected)
    s.scheduleReconnect()
}

func (s *Socket) scheduleReconnect() {
    if s.maxReconnect <= 0 || s.isStopping() {
        return
    }
    s.setState(StateReconnecting)
    s.wg.Add(1)
    go func() {
        defer s.wg.Done()
        for attempt := 1; attempt <= s.maxReconnect; attempt++ {
            select {
            case <-s.stopCh:
                return
            case <-time.After(backoffDuration(attempt)):
            }
            conn, err := s.dial(s.rootCtx)
            if err != nil {
                continue
            }
            s.attach(conn)
            return
        }
        s.setState(StateFailed)
    }()
}

func (s *Socket) setState(st State) {
    s.mu.Lock()
    s.state = st
    s.mu.Unlock()
    if cb := s.onState; cb != nil {
        cb(st)
    }
}

func (s *Socket) Close(ctx context.Context) error {
    s.stopOnce.Do(func() { close(s.stopCh) })
    s.mu.Lock()
    conn := s.conn
    s.conn = nil
    s.mu.Unlock()
    if conn != nil {
        _ = conn.Close(websocket.StatusNormalClosure, "close")
    }
    s.rootCancel()

    done := make(chan struct{})
    go func() {
        s.wg.Wait()
        close(done)
    }()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-done:
        s.setState(StateDisconnected)
        return nil
    }
}

func (s *Socket) isStopping() bool {
    select {
    case <-s.stopCh:
        return true
    default:
        return false
    }
}
