package mesh

import (
	"fmt"
	"sort"
)

// Routing: pure scoring logic, no I/O. Given a tool call and the current
// peer table, pick the best node to execute on.

// LocalityBonus is added to the local candidate when prefer_local is set.
const LocalityBonus = 0.2

// defaultPeerScore stands in for peers with no load data yet.
const defaultPeerScore = 0.5

// RouteDecision says where a tool call goes.
type RouteDecision struct {
	TargetNodeID string  `json:"target_node_id"`
	TargetURL    string  `json:"target_url"`
	TargetName   string  `json:"target_name"`
	Score        float64 `json:"score"`
	IsLocal      bool    `json:"is_local"`
	Reason       string  `json:"reason"`
}

// LoadScore maps a load snapshot to [0,1] where 1 means fully idle.
func LoadScore(load NodeLoad) float64 {
	if load.MaxConcurrentCrawls <= 0 {
		return 0
	}
	active := load.ActiveCrawls + load.ActiveAgentRuns
	available := load.MaxConcurrentCrawls - active
	if available < 0 {
		available = 0
	}
	return float64(available) / float64(load.MaxConcurrentCrawls)
}

// SelectTarget picks the best node for a tool call: self plus every healthy
// peer whose tool list is empty or contains the tool. Highest score wins.
func SelectTarget(toolName, selfNodeID string, selfLoad NodeLoad, peers []PeerState, preferLocal bool) *RouteDecision {
	type candidate struct {
		nodeID  string
		url     string
		name    string
		score   float64
		isLocal bool
	}

	selfScore := LoadScore(selfLoad)
	if preferLocal {
		selfScore += LocalityBonus
	}
	candidates := []candidate{{nodeID: selfNodeID, name: "self", score: selfScore, isLocal: true}}

	for _, peer := range peers {
		if !peer.Healthy {
			continue
		}
		if len(peer.Info.Tools) > 0 && !containsString(peer.Info.Tools, toolName) {
			continue
		}
		score := defaultPeerScore
		if peer.Load != nil {
			score = LoadScore(*peer.Load)
		}
		candidates = append(candidates, candidate{
			nodeID: peer.Info.NodeID,
			url:    peer.Info.AdvertiseURL,
			name:   peer.Info.NodeName,
			score:  score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	best := candidates[0]

	reason := fmt.Sprintf("peer %s scored %.2f", best.name, best.score)
	if best.isLocal {
		reason = "local preferred"
	}

	return &RouteDecision{
		TargetNodeID: best.nodeID,
		TargetURL:    best.url,
		TargetName:   best.name,
		Score:        best.score,
		IsLocal:      best.isLocal,
		Reason:       reason,
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
