// Package selector picks a healthy Node for a new meeting: minimum load
// with a random tie-break among equally loaded eligible nodes.
package selector

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/de-ibh/b3lb/pkg/models"
)

// ErrNoNodeAvailable is returned when no node in the group is eligible.
var ErrNoNodeAvailable = errors.New("no node available")

const (
	maintenanceLoad = -2
	erroredLoad     = -1
)

// Load computes the node's weighted load score:
//
//	load = attendees*a_factor + meetings*m_factor + sum_{k=1..N} (cpu_load/10000)^k * (cpu_max/N)
//
// Maintenance nodes get the sentinel -2, errored nodes -1, both ineligible.
func Load(n models.Node, c models.Cluster) float64 {
	if n.Maintenance {
		return maintenanceLoad
	}
	if n.HasErrors {
		return erroredLoad
	}

	load := float64(n.Attendees)*c.AFactor + float64(n.Meetings)*c.MFactor

	if c.CPUIterations > 0 {
		cpuFraction := float64(n.CPULoad) / 10000.0
		perIteration := c.CPUMax / float64(c.CPUIterations)
		for k := 1; k <= c.CPUIterations; k++ {
			load += math.Pow(cpuFraction, float64(k)) * perIteration
		}
	}
	return load
}

// Select implements the "collect all nodes tied at the minimum
// non-negative load, pick one uniformly at random."
func Select(nodes []models.Node, clustersByID map[string]models.Cluster) (models.Node, error) {
	var (
		best      = math.Inf(1)
		eligible  []models.Node
	)

	for _, n := range nodes {
		cluster, ok := clustersByID[n.ClusterID]
		if !ok {
			continue
		}
		load := Load(n, cluster)
		if load < 0 {
			continue
		}
		switch {
		case load < best:
			best = load
			eligible = []models.Node{n}
		case load == best:
			eligible = append(eligible, n)
		}
	}

	if len(eligible) == 0 {
		return models.Node{}, ErrNoNodeAvailable
	}
	return eligible[rand.IntN(len(eligible))], nil
}
