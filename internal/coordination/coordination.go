// Package coordination implements the CoordinationClient: ZooKeeper-style
// ephemeral-node leader election built on etcd's Session/Election
// primitives, which provide the same ephemeral-entry-plus-watch semantics
// the contract calls for.
package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/obslog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// State is the CoordinationClient's connection/leadership state machine:
// Disconnected -> Connecting -> Follower <-> Leader.
type State int

const (
	Disconnected State = iota
	Connecting
	Follower
	Leader
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Follower:
		return "follower"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Config controls the client's coordination-service target.
type Config struct {
	Endpoints      []string
	LeaderPath     string        // e.g. "/director/leader"
	SessionTimeout time.Duration // default 2s
	SelfAddress    string        // payload written to the leader entry
}

// Client is the CoordinationClient. It is safe to use from a single
// goroutine; onLeadershipLost callbacks run on an internal watch goroutine.
type Client struct {
	cfg Config
	etc *clientv3.Client

	mu      sync.Mutex
	state   State
	session *concurrency.Session
	elect   *concurrency.Election
	onLost  func()
}

// New dials the coordination service. The returned client starts
// Disconnected; call TryAcquireLeadership to move to Connecting/Follower.
func New(cfg Config) (*Client, error) {
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 2 * time.Second
	}
	if cfg.LeaderPath == "" {
		cfg.LeaderPath = "/director/leader"
	}

	etc, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.SessionTimeout,
	})
	if err != nil {
		return nil, ctlerr.Transient("coordination.new", fmt.Errorf("dial coordination service: %w", err))
	}

	return &Client{cfg: cfg, etc: etc, state: Disconnected}, nil
}

// OnLeadershipLost registers the callback invoked when this client's
// coordination session ends (expiry or close) while it is Leader. Resign
// does not invoke it. Must be called before TryAcquireLeadership.
func (c *Client) OnLeadershipLost(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLost = fn
}

// State returns the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TryAcquireLeadership blocks until this client becomes Leader, the
// context is cancelled, or an unrecoverable error occurs. On success it
// starts a watch goroutine that fires onLeadershipLost when the session
// ends. Sessions are scoped to cfg.SessionTimeout, giving the "ephemeral
// entry" semantics the contract describes.
func (c *Client) TryAcquireLeadership(ctx context.Context) error {
	c.mu.Lock()
	c.state = Connecting
	c.mu.Unlock()

	ttlSeconds := int(c.cfg.SessionTimeout / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	session, err := concurrency.NewSession(c.etc, concurrency.WithTTL(ttlSeconds))
	if err != nil {
		c.setState(Disconnected)
		return ctlerr.Transient("coordination.session", err)
	}

	election := concurrency.NewElection(session, c.cfg.LeaderPath)

	c.mu.Lock()
	c.state = Follower
	c.session = session
	c.elect = election
	c.mu.Unlock()

	if err := election.Campaign(ctx, c.cfg.SelfAddress); err != nil {
		c.setState(Disconnected)
		return ctlerr.Transient("coordination.campaign", err)
	}

	c.setState(Leader)
	go c.watchSession(session)

	return nil
}

func (c *Client) watchSession(session *concurrency.Session) {
	<-session.Done()
	c.mu.Lock()
	wasLeader := c.state == Leader
	c.state = Disconnected
	cb := c.onLost
	c.mu.Unlock()

	if wasLeader && cb != nil {
		obslog.WithComponent("coordination").Warn().Msg("coordination session ended, leadership lost")
		cb()
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Resign releases leadership voluntarily (graceful shutdown path). It is a
// no-op if this client is not currently Leader.
func (c *Client) Resign(ctx context.Context) error {
	c.mu.Lock()
	elect := c.elect
	isLeader := c.state == Leader
	c.mu.Unlock()

	if !isLeader || elect == nil {
		return nil
	}
	if err := elect.Resign(ctx); err != nil {
		return ctlerr.Transient("coordination.resign", err)
	}
	c.setState(Follower)
	return nil
}

// Close releases the session and closes the underlying etcd connection.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	return c.etc.Close()
}
