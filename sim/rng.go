package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible batch of replicas.
// Two batches with the same SimulationKey, model and parameters MUST produce
// bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemEnvironment is the RNG subsystem of a sequential environment.
	// Uses the master seed directly so that --seed N reproduces a plain rand.NewSource(N).
	SubsystemEnvironment = "environment"

	// SubsystemDispatch seeds jobs a dispatcher sends whole to a single worker.
	SubsystemDispatch = "dispatch"
)

// SubsystemReplica returns the subsystem name for replica i of a parallel batch.
func SubsystemReplica(i int) string {
	return fmt.Sprintf("replica_%d", i)
}

// SubsystemWorker returns the subsystem name for the share of remote worker i.
func SubsystemWorker(i int) string {
	return fmt.Sprintf("worker_%d", i)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemEnvironment: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: safe for concurrent use. The returned *rand.Rand values are not;
// each one must stay with a single replica.
type PartitionedRNG struct {
	mu         sync.Mutex
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.SeedFor(name)))
	p.subsystems[name] = rng
	return rng
}

// ForReplica returns a fresh RNG for replica i. Replica streams are not cached:
// large batches would otherwise keep every generator alive.
func (p *PartitionedRNG) ForReplica(i int) *rand.Rand {
	return rand.New(rand.NewSource(p.SeedFor(SubsystemReplica(i))))
}

// SeedFor returns the derived seed of the named subsystem.
func (p *PartitionedRNG) SeedFor(name string) int64 {
	if name == SubsystemEnvironment {
		return int64(p.key)
	}
	return int64(p.key) ^ fnv1a64(name)
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
