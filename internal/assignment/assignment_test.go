package assignment

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReplicasDeterministicAndPermutationInvariant checks that a
// fixed peer set + object id yields a
// deterministic replica set regardless of input ordering.
func TestReplicasDeterministicAndPermutationInvariant(t *testing.T) {
	peers := []string{"peer-a", "peer-b", "peer-c", "peer-d", "peer-e"}
	shuffled := append([]string(nil), peers...)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	a := Replicas("object-o", 3, peers)
	b := Replicas("object-o", 3, shuffled)
	assert.ElementsMatch(t, a, b)

	// Determinism: calling again yields the identical list.
	c := Replicas("object-o", 3, peers)
	assert.Equal(t, a, c)
}

func TestReplicasSubsetOfPeerList(t *testing.T) {
	peers := []string{"n1", "n2", "n3", "n4", "n5"}
	replicas := Replicas("object-x", 3, peers)
	for _, r := range replicas {
		assert.Contains(t, peers, r)
	}
	assert.LessOrEqual(t, len(replicas), 3)
}

func TestManagerIsResponsibleApproximatesReplicationRatio(t *testing.T) {
	mgr := NewManager(3, 9)
	responsibleCount := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		obj := randomID(t, i)
		if mgr.IsResponsible(obj, "self-node") {
			responsibleCount++
		}
	}
	ratio := float64(responsibleCount) / float64(trials)
	// Expected ~= r/N = 1/3; allow generous slack since this is a hash-derived estimate.
	assert.InDelta(t, 1.0/3.0, ratio, 0.1)
}

func TestAuditReportsMissingReplicas(t *testing.T) {
	peers := []string{"n1", "n2", "n3", "n4"}
	stored := map[string]map[string]bool{
		"obj-present": {},
		"obj-missing": {},
	}

	expectedPresent := Replicas("obj-present", 2, peers)
	require.NotEmpty(t, expectedPresent)
	stored["obj-present"][expectedPresent[0]] = true

	missing := Audit([]string{"obj-present", "obj-missing"}, peers, 2, func(objectID, peer string) bool {
		return stored[objectID][peer]
	})

	require.Len(t, missing, 1)
	assert.Equal(t, "obj-missing", missing[0].ObjectID)
}

func randomID(t *testing.T, seed int) string {
	t.Helper()
	r := rand.New(rand.NewSource(int64(seed)))
	b := make([]byte, 16)
	_, err := r.Read(b)
	require.NoError(t, err)
	return string(b)
}
