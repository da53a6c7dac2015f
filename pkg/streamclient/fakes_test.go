package streamclient_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
	"github.com/noah-isme/civic-stream-api/pkg/streamclient"
)

var errConnLost = errors.New("connection lost")

type fakeAPI struct {
	mu         sync.Mutex
	joinGate   chan struct{}
	joinErr    error
	joinFails  []error
	joins      []streamclient.JoinRequest
	snapshot   channel.Snapshot
	snapErr    error
	snapshots  int
	leaves     []string
	posted     []streamclient.MessageRequest
	postReply  func(streamclient.MessageRequest) channel.ChatMessagePayload
	nextID     uint
	joinCalled chan struct{}
	reacted    map[string]int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		snapshot: channel.Snapshot{
			Stream:          channel.StreamInfo{ID: 9, Status: "live"},
			ViewerCount:     4,
			PeakViewerCount: 6,
			RecentMessages:  []channel.ChatMessagePayload{{ID: 1, StreamID: 9, Message: "welcome"}},
			ReactionCounts:  map[string]int64{"like": 3},
		},
		nextID:     100,
		joinCalled: make(chan struct{}, 1),
		reacted:    map[string]int64{"like": 3},
	}
}

func (f *fakeAPI) Join(ctx context.Context, streamID uint, req streamclient.JoinRequest) (streamclient.JoinResult, error) {
	select {
	case f.joinCalled <- struct{}{}:
	default:
	}
	if f.joinGate != nil {
		<-f.joinGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, req)
	if len(f.joinFails) > 0 {
		err := f.joinFails[0]
		f.joinFails = f.joinFails[1:]
		return streamclient.JoinResult{}, err
	}
	if f.joinErr != nil {
		return streamclient.JoinResult{}, f.joinErr
	}
	return streamclient.JoinResult{ViewerID: "viewer-1", ViewerCount: 4, PeakViewerCount: 6}, nil
}

func (f *fakeAPI) Leave(ctx context.Context, streamID uint, viewerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, viewerID)
	return nil
}

func (f *fakeAPI) Snapshot(ctx context.Context, streamID uint) (channel.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	if f.snapErr != nil {
		return channel.Snapshot{}, f.snapErr
	}
	return f.snapshot, nil
}

func (f *fakeAPI) PostMessage(ctx context.Context, streamID uint, req streamclient.MessageRequest) (channel.ChatMessagePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, req)
	if f.postReply != nil {
		return f.postReply(req), nil
	}
	f.nextID++
	return channel.ChatMessagePayload{ID: f.nextID, StreamID: streamID, Message: req.Message, MessageType: req.MessageType, ClientRef: req.ClientRef}, nil
}

func (f *fakeAPI) AddReaction(ctx context.Context, streamID uint, req streamclient.ReactionRequest) (channel.ReactionAddedPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacted[req.ReactionType]++
	return channel.ReactionAddedPayload{
		Reaction: channel.ReactionPayload{StreamID: streamID, ReactionType: req.ReactionType},
		Count:    f.reacted[req.ReactionType],
	}, nil
}

func (f *fakeAPI) leaveCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.leaves...)
}

func (f *fakeAPI) joinCalls() []streamclient.JoinRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streamclient.JoinRequest(nil), f.joins...)
}

func (f *fakeAPI) snapshotCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots
}

func (f *fakeAPI) setSnapshot(snapshot channel.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snapshot
}

type fakeConn struct {
	events chan channel.Event
	fail   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan channel.Event, 16),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Next() (channel.Event, error) {
	select {
	case event := <-c.events:
		return event, nil
	case err := <-c.fail:
		return channel.Event{}, err
	case <-c.closed:
		return channel.Event{}, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out queued connections; with an empty queue it fails while
// refuse is set and otherwise returns a fresh connection.
type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	dialed []*fakeConn
	refuse atomic.Bool
	calls  atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, streamID uint) (streamclient.Conn, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) > 0 {
		conn := d.conns[0]
		d.conns = d.conns[1:]
		d.dialed = append(d.dialed, conn)
		return conn, nil
	}
	if d.refuse.Load() {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.dialed = append(d.dialed, conn)
	return conn, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dialed) == 0 {
		return nil
	}
	return d.dialed[len(d.dialed)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed)
}
