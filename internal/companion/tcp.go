package companion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pacelink/pacelink-app/internal/events"
	"github.com/pacelink/pacelink-app/internal/go_func_utils"
)

// tcpFrame is the line-delimited wire envelope. Kind is "req", "rsp", or
// "ctx"; ID correlates a response with its request; Body is a tagged Message.
type tcpFrame struct {
	Kind string          `json:"kind"`
	ID   uint64          `json:"id,omitempty"`
	Body json.RawMessage `json:"body"`
}

const tcpRedialBackoff = 2 * time.Second

// TCPTransport implements Transport over a single TCP connection carrying
// newline-delimited JSON frames. One side listens, the other dials; the
// dialing side re-dials with backoff, and connection state drives the
// reachability event.
type TCPTransport struct {
	logger *log.Logger

	mu      sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer
	pending map[uint64]*Operation
	closed  bool

	nextID atomic.Uint64

	reachEvent   *events.ChannelEvent[bool]
	requestEvent *events.ChannelEvent[Incoming]
	contextEvent *events.ChannelEvent[Message]

	listener net.Listener // nil in dial mode
	dialAddr string       // empty in listen mode

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Transport = (*TCPTransport)(nil)

func newTCPTransport(logger *log.Logger) *TCPTransport {
	if logger == nil {
		panic("TCPTransport: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPTransport{
		logger:       logger,
		pending:      make(map[uint64]*Operation),
		reachEvent:   events.NewChannelEvent[bool](true),
		requestEvent: events.NewChannelEvent[Incoming](false),
		contextEvent: events.NewChannelEvent[Message](false),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ListenTCP creates a transport that accepts the peer on addr. Only one peer
// connection is held at a time; a new accept replaces a dead one.
func ListenTCP(logger *log.Logger, addr string) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	t := newTCPTransport(logger)
	t.listener = ln
	t.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { t.acceptLoop() })
	return t, nil
}

// DialTCP creates a transport that dials the peer at addr, re-dialing with a
// fixed backoff until Shutdown.
func DialTCP(logger *log.Logger, addr string) *TCPTransport {
	t := newTCPTransport(logger)
	t.dialAddr = addr
	t.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { t.dialLoop() })
	return t
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Printf("TCPTransport: accept error: %v", err)
			continue
		}
		t.logger.Printf("TCPTransport: peer connected from %s", conn.RemoteAddr())
		t.attach(conn)
		t.readLoop(conn)
		t.detach(conn)
		if t.ctx.Err() != nil {
			return
		}
	}
}

func (t *TCPTransport) dialLoop() {
	defer t.wg.Done()
	for {
		if t.ctx.Err() != nil {
			return
		}
		conn, err := net.Dial("tcp", t.dialAddr)
		if err != nil {
			t.logger.Printf("TCPTransport: dial %s failed: %v (retrying in %v)", t.dialAddr, err, tcpRedialBackoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(tcpRedialBackoff):
			}
			continue
		}
		t.logger.Printf("TCPTransport: connected to %s", t.dialAddr)
		t.attach(conn)
		t.readLoop(conn)
		t.detach(conn)
	}
}

func (t *TCPTransport) attach(conn net.Conn) {
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.writer = bufio.NewWriter(conn)
	t.mu.Unlock()
	t.reachEvent.Notify(true)
}

// detach drops the connection and fails every pending operation so their
// callers see an error now instead of waiting out the timeout.
func (t *TCPTransport) detach(conn net.Conn) {
	_ = conn.Close()
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.writer = nil
	orphans := t.pending
	t.pending = make(map[uint64]*Operation)
	t.mu.Unlock()

	for _, op := range orphans {
		op.Fail(ErrSendFailed)
	}
	t.reachEvent.Notify(false)
	t.logger.Printf("TCPTransport: peer disconnected")
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var frame tcpFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			t.logger.Printf("TCPTransport: bad frame: %v", err)
			continue
		}
		msg, err := Decode(frame.Body)
		if err != nil {
			t.logger.Printf("TCPTransport: bad body: %v", err)
			continue
		}

		switch frame.Kind {
		case "req":
			id := frame.ID
			var replied atomic.Bool
			t.requestEvent.Notify(Incoming{
				Msg: msg,
				Reply: func(reply Message) {
					if !replied.CompareAndSwap(false, true) {
						return
					}
					if err := t.writeFrame("rsp", id, reply); err != nil {
						t.logger.Printf("TCPTransport: reply write failed: %v", err)
					}
				},
			})
		case "rsp":
			t.mu.Lock()
			op, ok := t.pending[frame.ID]
			delete(t.pending, frame.ID)
			t.mu.Unlock()
			if ok {
				op.Succeed(msg)
			}
		case "ctx":
			t.contextEvent.Notify(msg)
		default:
			t.logger.Printf("TCPTransport: unknown frame kind %q", frame.Kind)
		}
	}
	if err := scanner.Err(); err != nil && t.ctx.Err() == nil {
		t.logger.Printf("TCPTransport: read error: %v", err)
	}
}

func (t *TCPTransport) writeFrame(kind string, id uint64, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(tcpFrame{Kind: kind, ID: id, Body: body})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		return ErrNotReachable
	}
	if _, err := t.writer.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// SendRequest sends msg and waits for the first of reply/timeout/error/cancel.
func (t *TCPTransport) SendRequest(ctx context.Context, msg Message, timeout time.Duration) Result {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Result{Outcome: OutcomeError, Err: ErrNotActivated}
	}
	if t.conn == nil {
		t.mu.Unlock()
		return Result{Outcome: OutcomeError, Err: ErrNotReachable}
	}
	t.mu.Unlock()

	id := t.nextID.Add(1)
	op := NewOperation(timeout)

	t.mu.Lock()
	t.pending[id] = op
	t.mu.Unlock()

	if err := t.writeFrame("req", id, msg); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		op.Fail(err)
	}

	r := op.Wait(ctx)

	// Whatever branch won, the operation is dead; drop it so a late response
	// frame cannot find it.
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
	return r
}

// PushContext sends msg as a fire-and-forget frame. Loss is silent.
func (t *TCPTransport) PushContext(msg Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrNotActivated
	}
	if err := t.writeFrame("ctx", 0, msg); err != nil {
		// Unreachable peer means the push is dropped, matching the channel's
		// best-effort contract.
		return nil
	}
	return nil
}

// Addr returns the bound listen address, or "" in dial mode. Useful when
// listening on port 0.
func (t *TCPTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Reachable reports whether a peer connection is currently up.
func (t *TCPTransport) Reachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.closed
}

// ListenToReachability registers a channel for connection state changes.
func (t *TCPTransport) ListenToReachability(ch chan<- bool) func() {
	return t.reachEvent.Listen(ch)
}

// ListenToRequests registers a channel for incoming peer requests.
func (t *TCPTransport) ListenToRequests(ch chan<- Incoming) func() {
	return t.requestEvent.Listen(ch)
}

// ListenToContext registers a channel for incoming context pushes.
func (t *TCPTransport) ListenToContext(ch chan<- Message) func() {
	return t.contextEvent.Listen(ch)
}

// Shutdown closes the connection and stops the accept/dial loops.
func (t *TCPTransport) Shutdown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if t.listener != nil {
		_ = t.listener.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	t.wg.Wait()
	t.logger.Printf("TCPTransport: shutdown complete")
}
