package mesh

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoadFunc snapshots this node's current load counters.
type LoadFunc func() NodeLoad

// CoordinatorConfig configures a mesh node.
type CoordinatorConfig struct {
	NodeName            string
	AdvertiseURL        string
	Secret              string
	SeedPeers           []string
	HeartbeatInterval   time.Duration
	PeerTimeout         time.Duration
	PeerRemove          time.Duration
	Tools               []string
	Capabilities        []string
	MaxConcurrentCrawls int
}

// Coordinator owns the peer table, the background heartbeat loop, and
// join/leave handling. Created at startup when the mesh is enabled and
// stopped at shutdown.
type Coordinator struct {
	NodeID   string
	NodeName string

	cfg      CoordinatorConfig
	nodeInfo NodeInfo
	client   *Client
	loadFn   LoadFunc

	mu    sync.Mutex
	peers map[string]*PeerState

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewCoordinator(cfg CoordinatorConfig, loadFn LoadFunc) *Coordinator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = 45 * time.Second
	}
	if cfg.PeerRemove <= 0 {
		cfg.PeerRemove = 120 * time.Second
	}
	nodeName := cfg.NodeName
	if nodeName == "" {
		nodeName, _ = os.Hostname()
	}
	capabilities := cfg.Capabilities
	if len(capabilities) == 0 {
		capabilities = []string{"crawl", "markdown", "agent"}
	}

	nodeID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	c := &Coordinator{
		NodeID:   nodeID,
		NodeName: nodeName,
		cfg:      cfg,
		nodeInfo: NodeInfo{
			NodeID:       nodeID,
			NodeName:     nodeName,
			AdvertiseURL: cfg.AdvertiseURL,
			Tools:        cfg.Tools,
			Capabilities: capabilities,
			Version:      "1.0.0",
			JoinedAtMS:   nowMS(),
		},
		client: NewClient(cfg.Secret),
		loadFn: loadFn,
		peers:  make(map[string]*PeerState),
		done:   make(chan struct{}),
	}
	return c
}

// Start joins every seed peer concurrently (one-hop gossip, no recursive
// joining) and begins the heartbeat loop.
func (c *Coordinator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true

	slog.Info("mesh starting",
		"node", c.NodeName, "id", c.NodeID,
		"url", c.cfg.AdvertiseURL, "seeds", c.cfg.SeedPeers)

	if len(c.cfg.SeedPeers) > 0 {
		var wg sync.WaitGroup
		var joined int
		var joinedMu sync.Mutex
		for _, seed := range c.cfg.SeedPeers {
			wg.Add(1)
			go func(peerURL string) {
				defer wg.Done()
				if c.joinPeer(ctx, peerURL) {
					joinedMu.Lock()
					joined++
					joinedMu.Unlock()
				}
			}(seed)
		}
		wg.Wait()
		slog.Info("joined seed peers", "joined", joined, "total", len(c.cfg.SeedPeers))
	}

	go c.heartbeatLoop(loopCtx)
	slog.Info("mesh coordinator started", "peers", len(c.Peers()))
}

// Stop ends the heartbeat loop and sends a best-effort leave to every
// healthy peer.
func (c *Coordinator) Stop(ctx context.Context) {
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	<-c.done

	var wg sync.WaitGroup
	for _, peer := range c.HealthyPeers() {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			c.client.Leave(ctx, url, c.NodeID)
		}(peer.Info.AdvertiseURL)
	}
	wg.Wait()
	slog.Info("mesh coordinator stopped")
}

// Info returns this node's identity.
func (c *Coordinator) Info() NodeInfo { return c.nodeInfo }

// Client exposes the mesh HTTP client for the mesh dispatcher.
func (c *Coordinator) Client() *Client { return c.client }

// SelfLoad snapshots this node's current load.
func (c *Coordinator) SelfLoad() NodeLoad {
	if c.loadFn != nil {
		load := c.loadFn()
		load.NodeID = c.NodeID
		if load.MaxConcurrentCrawls == 0 {
			load.MaxConcurrentCrawls = c.cfg.MaxConcurrentCrawls
		}
		load.TimestampMS = nowMS()
		return load
	}
	return NodeLoad{NodeID: c.NodeID, MaxConcurrentCrawls: c.cfg.MaxConcurrentCrawls, TimestampMS: nowMS()}
}

// VerifyToken checks an incoming mesh token against this node's secret.
func (c *Coordinator) VerifyToken(token string) bool {
	return VerifyToken(token, c.cfg.Secret)
}

// Peers returns a snapshot of all known peers.
func (c *Coordinator) Peers() []PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerState, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, *p)
	}
	return out
}

// HealthyPeers returns a snapshot of healthy peers only.
func (c *Coordinator) HealthyPeers() []PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerState, 0, len(c.peers))
	for _, p := range c.peers {
		if p.Healthy {
			out = append(out, *p)
		}
	}
	return out
}

// KnownPeerInfos returns NodeInfo for all known peers (join responses).
func (c *Coordinator) KnownPeerInfos() []NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NodeInfo, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p.Info)
	}
	return out
}

// RegisterPeer adds or refreshes a peer. Self-registration is ignored.
func (c *Coordinator) RegisterPeer(info NodeInfo, load *NodeLoad) {
	if info.NodeID == c.NodeID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.peers[info.NodeID]; ok {
		existing.Info = info
		existing.LastHeartbeatMS = nowMS()
		existing.MissedHeartbeats = 0
		existing.Healthy = true
		if load != nil {
			existing.Load = load
		}
		return
	}

	c.peers[info.NodeID] = &PeerState{
		Info:            info,
		Load:            load,
		LastHeartbeatMS: nowMS(),
		Healthy:         true,
	}
	slog.Info("peer registered", "name", info.NodeName, "id", info.NodeID, "url", info.AdvertiseURL)
}

// RemovePeer drops a peer from the table.
func (c *Coordinator) RemovePeer(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer, ok := c.peers[nodeID]; ok {
		delete(c.peers, nodeID)
		slog.Info("peer removed", "name", peer.Info.NodeName, "id", nodeID)
	}
}

// UpdatePeerLoad refreshes a peer's load from an inbound heartbeat.
func (c *Coordinator) UpdatePeerLoad(nodeID string, load NodeLoad) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer, ok := c.peers[nodeID]; ok {
		peer.Load = &load
		peer.LastHeartbeatMS = nowMS()
		peer.MissedHeartbeats = 0
		peer.Healthy = true
	}
}

func (c *Coordinator) joinPeer(ctx context.Context, peerURL string) bool {
	resp := c.client.Join(ctx, peerURL, c.nodeInfo)
	if resp == nil || !resp.OK {
		return false
	}
	c.RegisterPeer(resp.NodeInfo, nil)
	// One-hop gossip: learn the peers the remote knows, but never join
	// them recursively.
	for _, known := range resp.KnownPeers {
		c.RegisterPeer(known, nil)
	}
	return true
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeats(ctx)
			c.cullStalePeers()
		}
	}
}

func (c *Coordinator) sendHeartbeats(ctx context.Context) {
	load := c.SelfLoad()

	c.mu.Lock()
	targets := make([]*PeerState, 0, len(c.peers))
	for _, p := range c.peers {
		targets = append(targets, p)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, peer := range targets {
		wg.Add(1)
		go func(p *PeerState) {
			defer wg.Done()
			resp := c.client.Heartbeat(ctx, p.Info.AdvertiseURL, load)

			c.mu.Lock()
			defer c.mu.Unlock()
			if resp != nil && resp.OK {
				p.LastHeartbeatMS = nowMS()
				p.MissedHeartbeats = 0
				p.Healthy = true
				return
			}
			p.MissedHeartbeats++
			if time.Duration(p.MissedHeartbeats)*c.cfg.HeartbeatInterval >= c.cfg.PeerTimeout {
				if p.Healthy {
					slog.Warn("peer marked unhealthy",
						"name", p.Info.NodeName, "id", p.Info.NodeID,
						"missed", p.MissedHeartbeats)
				}
				p.Healthy = false
			}
		}(peer)
	}
	wg.Wait()
}

func (c *Coordinator) cullStalePeers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowMS()
	for nodeID, peer := range c.peers {
		if now-peer.LastHeartbeatMS > c.cfg.PeerRemove.Milliseconds() {
			delete(c.peers, nodeID)
			slog.Info("stale peer removed", "name", peer.Info.NodeName, "id", nodeID)
		}
	}
}
