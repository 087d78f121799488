package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/de-ibh/b3lb/pkg/models"
)

func cluster() models.Cluster {
	return models.Cluster{ID: "c1", AFactor: 1, MFactor: 1, CPUIterations: 2, CPUMax: 10}
}

func TestLoadMaintenanceAndErrorsAreIneligible(t *testing.T) {
	c := cluster()
	assert.Equal(t, float64(maintenanceLoad), Load(models.Node{ClusterID: "c1", Maintenance: true}, c))
	assert.Equal(t, float64(erroredLoad), Load(models.Node{ClusterID: "c1", HasErrors: true}, c))
}

func TestSelectFairnessAmongTiedNodes(t *testing.T) {
	c := cluster()
	clusters := map[string]models.Cluster{"c1": c}
	nodes := []models.Node{
		{ID: "a", ClusterID: "c1"},
		{ID: "b", ClusterID: "c1"},
		{ID: "d", ClusterID: "c1"},
	}

	counts := map[string]int{}
	const trials = 3000
	for i := 0; i < trials; i++ {
		n, err := Select(nodes, clusters)
		require.NoError(t, err)
		counts[n.ID]++
	}

	for _, id := range []string{"a", "b", "d"} {
		frac := float64(counts[id]) / trials
		assert.InDelta(t, 1.0/3.0, frac, 0.05)
	}
}

func TestSelectNoEligibleNodes(t *testing.T) {
	clusters := map[string]models.Cluster{"c1": cluster()}
	nodes := []models.Node{{ID: "a", ClusterID: "c1", Maintenance: true}}
	_, err := Select(nodes, clusters)
	assert.ErrorIs(t, err, ErrNoNodeAvailable)
}
