package pool

import (
	"sync"
	"time"

	"github.com/fystack/eth-disburser/pkg/common/logger"
)

// DefaultCooldown is how long a failed node is passed over before it is tried again.
const DefaultCooldown = 30 * time.Second

// Pool picks a node by priority: the first node in list order that is not cooling down.
// Nonce reads and broadcasts should hit the same node while it stays healthy, so the
// pool is sticky rather than round-robin.
type Pool struct {
	nodes       []string
	failedNodes map[string]time.Time
	cooldown    time.Duration
	now         func() time.Time
	mutex       sync.RWMutex
}

func New(nodes []string, cooldown time.Duration) *Pool {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Pool{
		nodes:       nodes,
		failedNodes: make(map[string]time.Time),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Current returns the preferred healthy node. When every node is cooling down the
// failures are forgotten and the first node is returned.
func (p *Pool) Current() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.nodes) == 0 {
		return ""
	}
	for _, node := range p.nodes {
		failedAt, failed := p.failedNodes[node]
		if !failed || p.now().Sub(failedAt) > p.cooldown {
			return node
		}
	}

	p.failedNodes = make(map[string]time.Time)
	return p.nodes[0]
}

func (p *Pool) MarkFailed(node string) {
	if len(p.nodes) < 2 {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.failedNodes[node] = p.now()
	logger.Debug("Node marked as failed", "node", node, "cooldown", p.cooldown)
}

func (p *Pool) MarkHealthy(node string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, ok := p.failedNodes[node]; ok {
		delete(p.failedNodes, node)
		logger.Debug("Node marked as healthy", "node", node)
	}
}

func (p *Pool) GetStats() (total, healthy, failed int) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	total = len(p.nodes)
	failed = len(p.failedNodes)
	healthy = total - failed
	return
}
