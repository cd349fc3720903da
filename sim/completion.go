package sim

import (
	"math/rand"
)

// resolution is what a completion handler decided for one finished job.
// Exactly one of: forward set, requeue set, or outcome set.
type resolution struct {
	outcome Outcome
	reason  FailureReason
	forward *ServiceNode
	requeue bool
}

func resolved(outcome Outcome, reason FailureReason) resolution {
	return resolution{outcome: outcome, reason: reason}
}

func forwardTo(n *ServiceNode) resolution {
	return resolution{forward: n}
}

// completionFunc decides the fate of req after it finished processing on n.
type completionFunc func(n *ServiceNode, req *Request, net *Network, rng *rand.Rand) resolution

// completionHandlers is the kind dispatch table. Kinds not listed here
// forward round-robin to any connected node.
var completionHandlers = map[NodeKind]completionFunc{
	KindDatabase:    completeTerminal,
	KindObjectStore: completeTerminal,
	KindCache:       completeCache,
	KindCompute:     completeCompute,
	KindQueue:       completeQueue,
}

func completionHandler(kind NodeKind) completionFunc {
	if h, ok := completionHandlers[kind]; ok {
		return h
	}
	return completeForwardAny
}

// completeTerminal finishes requests addressed to this node's kind.
func completeTerminal(n *ServiceNode, req *Request, _ *Network, _ *rand.Rand) resolution {
	if req.Destination == n.Kind {
		return resolved(OutcomeFinished, ReasonNone)
	}
	return resolved(OutcomeFailed, ReasonMisrouted)
}

// completeCache serves cacheable requests from cache with the request's hit
// rate, otherwise forwards to a connected node of the destination kind.
func completeCache(n *ServiceNode, req *Request, net *Network, rng *rand.Rand) resolution {
	if req.Cacheable && rng.Float64() < req.CacheHitRate {
		req.Cached = true
		return resolved(OutcomeCacheHit, ReasonNone)
	}
	if next := net.FindConnected(n.ID, req.Destination); next != nil {
		return forwardTo(next)
	}
	return resolved(OutcomeFailed, ReasonUnreachable)
}

// completeCompute rejects malicious traffic that got past the edge, prefers
// a connected cache for cacheable requests, then the destination kind.
func completeCompute(n *ServiceNode, req *Request, net *Network, _ *rand.Rand) resolution {
	if req.Destination == DestinationBlocked {
		return resolved(OutcomeFailed, ReasonMaliciousPassed)
	}
	if req.Cacheable {
		if cache := net.FindConnected(n.ID, KindCache); cache != nil {
			return forwardTo(cache)
		}
	}
	if next := net.FindConnected(n.ID, req.Destination); next != nil {
		return forwardTo(next)
	}
	return resolved(OutcomeFailed, ReasonUnreachable)
}

// completeQueue hands work to connected load balancers or compute nodes in
// round-robin order, skipping targets whose queue is full. When every
// candidate is full the job is requeued.
func completeQueue(n *ServiceNode, req *Request, net *Network, _ *rand.Rand) resolution {
	var candidates []*ServiceNode
	for _, c := range net.Connected(n.ID) {
		if c.Kind == KindLoadBalancer || c.Kind == KindCompute {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return resolved(OutcomeFailed, ReasonUnreachable)
	}
	for range candidates {
		target := n.RoundRobin(candidates)
		if target.HasQueueRoom() {
			return forwardTo(target)
		}
	}
	return resolution{requeue: true}
}

// completeForwardAny is used by firewalls and load balancers.
func completeForwardAny(n *ServiceNode, _ *Request, net *Network, _ *rand.Rand) resolution {
	candidates := net.Connected(n.ID)
	if len(candidates) == 0 {
		return resolved(OutcomeFailed, ReasonUnreachable)
	}
	return forwardTo(n.RoundRobin(candidates))
}
