package sim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// MaxHealth is the health of a fresh or repaired node.
const MaxHealth = 100.0

// idleLoad is the load at or below which a node counts as idle.
const idleLoad = 0.05

type job struct {
	req       *Request
	elapsedMs float64
}

// ServiceNode is a placed infrastructure node: a FIFO wait queue feeding a
// bounded set of processing slots, with kind-specific completion logic
// resolved through completionHandlers.
//
// Thread-safety: NOT thread-safe. Owned by a single Network.
type ServiceNode struct {
	ID   string
	Kind NodeKind
	Tier int

	Capacity         int     // tier-derived slot count
	MaxQueueSize     int     // admission limit seen by upstream queue nodes
	CacheHitRate     float64 // tier-derived; cache nodes only
	ProcessingTimeMs float64
	CriticalHealth   float64

	Health             float64 // [0, 100]
	TempCapacityFactor float64 // [0, 1]; 1 means no reduction
	Disabled           bool

	spec       NodeSpec
	queue      WaitQueue
	processing []job
	rrCursor   int
}

// NewServiceNode creates a tier-1 node at full health.
func NewServiceNode(id string, spec NodeSpec, criticalHealth float64) *ServiceNode {
	if criticalHealth <= 0 {
		criticalHealth = DefaultCriticalHealth
	}
	maxQ := spec.MaxQueueSize
	if maxQ <= 0 {
		maxQ = DefaultMaxQueueSize
	}
	n := &ServiceNode{
		ID:                 id,
		Kind:               spec.Kind,
		Tier:               1,
		Capacity:           spec.Capacity,
		MaxQueueSize:       maxQ,
		CacheHitRate:       spec.CacheHitRate,
		ProcessingTimeMs:   spec.ProcessingTimeMs,
		CriticalHealth:     criticalHealth,
		Health:             MaxHealth,
		TempCapacityFactor: 1,
		spec:               spec,
	}
	if t, ok := spec.Tier(1); ok {
		n.Capacity = t.Capacity
		if t.CacheHitRate > 0 {
			n.CacheHitRate = t.CacheHitRate
		}
	}
	return n
}

// Spec returns the catalog entry the node was built from.
func (n *ServiceNode) Spec() NodeSpec {
	return n.spec
}

// EffectiveCapacity is the number of processing slots currently usable.
// Pure: derived from Capacity, Health, TempCapacityFactor and Disabled.
func (n *ServiceNode) EffectiveCapacity() int {
	if n.Disabled {
		return 0
	}
	capacity := n.Capacity
	if n.Health < n.CriticalHealth {
		ratio := n.Health / n.CriticalHealth
		capacity = max(1, int(math.Floor(float64(capacity)*(0.3+0.7*ratio))))
	}
	if n.TempCapacityFactor >= 0 && n.TempCapacityFactor < 1 {
		capacity = max(1, int(math.Floor(float64(capacity)*n.TempCapacityFactor)))
	}
	return capacity
}

// TotalLoad is the congestion ratio (processing + queued) / (capacity * 2).
// It feeds failure probability and health decay, never admission.
func (n *ServiceNode) TotalLoad() float64 {
	return n.loadWith(len(n.processing))
}

func (n *ServiceNode) loadWith(inService int) float64 {
	if n.Capacity == 0 {
		return 1
	}
	return float64(inService+n.queue.Len()) / float64(n.Capacity*2)
}

// FailChance maps load to a failure probability: 0 up to 50% load,
// rising linearly to 1 at 100% load.
func FailChance(load float64) float64 {
	if load <= 0.5 {
		return 0
	}
	return math.Max(0, 2*(load-0.5))
}

// HealthPenalty is the extra failure probability of a node below critical health.
func HealthPenalty(health, critical float64) float64 {
	if health >= critical {
		return 0
	}
	return (1 - health/MaxHealth) * 0.5
}

// completionFailChance combines load and health into one probability in [0,1].
func (n *ServiceNode) completionFailChance(load float64) float64 {
	return math.Min(1, FailChance(load)+HealthPenalty(n.Health, n.CriticalHealth))
}

// QueueLen returns the number of waiting requests.
func (n *ServiceNode) QueueLen() int {
	return n.queue.Len()
}

// ProcessingLen returns the number of occupied slots.
func (n *ServiceNode) ProcessingLen() int {
	return len(n.processing)
}

// QueueHead returns the request next in line for a slot, or nil.
func (n *ServiceNode) QueueHead() *Request {
	return n.queue.Peek()
}

// InService returns the requests currently holding a processing slot.
func (n *ServiceNode) InService() []*Request {
	out := make([]*Request, len(n.processing))
	for i, j := range n.processing {
		out[i] = j.req
	}
	return out
}

// HasQueueRoom reports whether an upstream queue node may push here.
func (n *ServiceNode) HasQueueRoom() bool {
	return n.queue.Len() < n.MaxQueueSize
}

// Enqueue moves req into this node's wait queue. This is the only
// sanctioned way for one node to touch another node's state.
// Panics if req is still held by a node or already resolved.
func (n *ServiceNode) Enqueue(req *Request) {
	if req.Held() {
		panic(fmt.Sprintf("Enqueue: request %s still held by %s (%s), cannot enter %s", req.ID, req.NodeID, req.State, n.ID))
	}
	if req.State == StateResolved {
		panic(fmt.Sprintf("Enqueue: request %s already resolved", req.ID))
	}
	req.State = StateQueued
	req.NodeID = n.ID
	req.Hops++
	n.queue.Enqueue(req)
}

// Admit moves requests from the queue into free processing slots, FIFO.
// A firewall resolves malicious requests at dequeue without using a slot.
func (n *ServiceNode) Admit(now float64) []OutcomeEvent {
	var events []OutcomeEvent
	capacity := n.EffectiveCapacity()
	for len(n.processing) < capacity && n.queue.Len() > 0 {
		req := n.queue.Dequeue()
		if n.Kind == KindFirewall && req.IsMalicious() {
			logrus.Debugf("[%s] blocked malicious %s", n.ID, req.ID)
			events = append(events, Resolve(req, OutcomeBlocked, ReasonMaliciousBlocked, n, now))
			continue
		}
		req.State = StateProcessing
		n.processing = append(n.processing, job{req: req})
	}
	return events
}

// requiredTimeMs is the processing time of req on this node.
// Only compute nodes scale by the request's processing weight.
func (n *ServiceNode) requiredTimeMs(req *Request) float64 {
	if n.Kind == KindCompute {
		return n.ProcessingTimeMs * req.ProcessingWeight
	}
	return n.ProcessingTimeMs
}

// Advance progresses every processing job by dt seconds and resolves or
// forwards the ones that complete. If a queue node hits backpressure the
// job returns to the head of the wait queue and the rest of the jobs are
// left untouched until the next step.
func (n *ServiceNode) Advance(dt float64, net *Network, rng *rand.Rand, now float64) []OutcomeEvent {
	var events []OutcomeEvent
	jobs := n.processing
	remaining := make([]job, 0, len(jobs))
	live := len(jobs)

	for i := 0; i < len(jobs); i++ {
		j := jobs[i]
		j.elapsedMs += dt * 1000
		if j.elapsedMs < n.requiredTimeMs(j.req) {
			remaining = append(remaining, j)
			continue
		}
		live--

		if rng.Float64() < n.completionFailChance(n.loadWith(live)) {
			logrus.Debugf("[%s] %s failed under load %.2f health %.1f", n.ID, j.req.ID, n.loadWith(live), n.Health)
			events = append(events, Resolve(j.req, OutcomeFailed, ReasonCapacity, n, now))
			continue
		}

		res := completionHandler(n.Kind)(n, j.req, net, rng)
		switch {
		case res.requeue:
			j.req.State = StateQueued
			n.queue.PrependFront(j.req)
			remaining = append(remaining, jobs[i+1:]...)
			n.processing = remaining
			logrus.Debugf("[%s] backpressure: %s requeued, %d jobs deferred", n.ID, j.req.ID, len(jobs)-i-1)
			return events
		case res.forward != nil:
			net.Forward(j.req, res.forward)
		default:
			events = append(events, Resolve(j.req, res.outcome, res.reason, n, now))
		}
	}
	n.processing = remaining
	return events
}

// UpdateHealth applies load-driven decay or idle auto-repair.
// Returns the health restored by auto-repair, 0 otherwise.
func (n *ServiceNode) UpdateHealth(dt float64, flags StepFlags, cfg DegradationConfig) float64 {
	if !flags.Degradation {
		return 0
	}
	load := n.TotalLoad()
	if load > idleLoad {
		n.Health = math.Max(0, n.Health-cfg.DecayRate*(0.5+1.5*load)*dt)
		return 0
	}
	if flags.AutoRepair && cfg.AutoRepairRate > 0 && n.Health < MaxHealth {
		before := n.Health
		n.Health = math.Min(MaxHealth, math.Max(0, n.Health+cfg.AutoRepairRate*dt))
		return n.Health - before
	}
	return 0
}

// UpkeepCost is the running cost accrued over dt seconds.
func (n *ServiceNode) UpkeepCost(dt, multiplier float64) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	return n.spec.UpkeepPerMinute / 60 * dt * multiplier
}

// NodeUpdate summarizes one node's step.
type NodeUpdate struct {
	Events       []OutcomeEvent
	Upkeep       float64
	AutoRepaired float64
}

// Update runs one step of this node: health, upkeep, admission, processing.
func (n *ServiceNode) Update(dt float64, net *Network, rng *rand.Rand, env NodeEnv) NodeUpdate {
	var u NodeUpdate
	u.AutoRepaired = n.UpdateHealth(dt, env.Flags, env.Degradation)
	if env.Flags.Upkeep {
		u.Upkeep = n.UpkeepCost(dt, env.CostMultiplier)
	}
	u.Events = append(u.Events, n.Admit(env.Now)...)
	u.Events = append(u.Events, n.Advance(dt, net, rng, env.Now)...)
	return u
}

// RepairCost is the price of a manual repair.
func (n *ServiceNode) RepairCost(costPercent float64) float64 {
	return math.Ceil(n.spec.Cost * costPercent)
}

// Repair restores full health. Returns the cost and false if already healthy.
func (n *ServiceNode) Repair(costPercent float64) (float64, bool) {
	if n.Health >= MaxHealth {
		return 0, false
	}
	n.Health = MaxHealth
	return n.RepairCost(costPercent), true
}

// Upgrade raises the tier by one, replacing capacity (and cache hit rate)
// from the tier table. Returns the tier cost and false at the top tier or
// for kinds without tiers.
func (n *ServiceNode) Upgrade() (float64, bool) {
	if !n.spec.Upgradable() {
		return 0, false
	}
	next, ok := n.spec.Tier(n.Tier + 1)
	if !ok {
		return 0, false
	}
	n.applyTier(next)
	return next.Cost, true
}

// SetTier jumps directly to level, used when restoring a snapshot.
func (n *ServiceNode) SetTier(level int) error {
	if level == 1 && !n.spec.Upgradable() {
		return nil
	}
	t, ok := n.spec.Tier(level)
	if !ok {
		return fmt.Errorf("node %s: tier %d out of range [1,%d]", n.ID, level, n.spec.TierCount())
	}
	n.applyTier(t)
	return nil
}

func (n *ServiceNode) applyTier(t TierSpec) {
	n.Tier = t.Level
	n.Capacity = t.Capacity
	if n.Kind == KindCache && t.CacheHitRate > 0 {
		n.CacheHitRate = t.CacheHitRate
	}
}

// RoundRobin returns candidates[cursor % len] and advances the cursor.
// The cursor is never reset when the candidate set changes.
// Panics on an empty candidate list.
func (n *ServiceNode) RoundRobin(candidates []*ServiceNode) *ServiceNode {
	if len(candidates) == 0 {
		panic("RoundRobin: empty candidates")
	}
	target := candidates[n.rrCursor%len(candidates)]
	n.rrCursor++
	return target
}

// RoundRobinCursor exposes the cursor for status reporting.
func (n *ServiceNode) RoundRobinCursor() int {
	return n.rrCursor
}

// release removes every held request and returns them, queue first.
func (n *ServiceNode) release() []*Request {
	out := n.queue.Drain()
	for _, j := range n.processing {
		out = append(out, j.req)
	}
	n.processing = nil
	for _, r := range out {
		r.State = StateInFlight
	}
	return out
}

func (n *ServiceNode) String() string {
	return fmt.Sprintf("ServiceNode: (ID: %s, Kind: %s, Tier: %d, Health: %.1f, Queue: %d, Processing: %d/%d)",
		n.ID, n.Kind, n.Tier, n.Health, n.queue.Len(), len(n.processing), n.EffectiveCapacity())
}
