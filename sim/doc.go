// Package sim provides the stochastic simulation kernel for continuous-time Markov
// population models.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - model.go: Model, StepFunction, Predicate and Monitor contracts
//   - weighted.go: WeightedStructure, the weighted draw behind every step
//   - kernel.go: the SSA step (exponential waiting time + weighted selection) and the replica loop
//   - task.go: predicate/trajectory mode used by reachability and trajectory capture
//   - environment.go: the entry point that runs batches of replicas
//
// # Architecture
//
// The sim package defines the contracts and the kernel; everything else lives in
// sub-packages:
//   - sim/sampling/: sampling functions and aggregated time series (no dependency on sim/)
//   - sim/network/: framed TCP transport and payload codecs
//   - sim/remote/: worker server, client and dispatcher shipping replicas over sim/network
//   - sim/population/: an example population model (reaction rules over occupancy vectors)
//   - sim/store/: SQLite persistence of runs and results
//
// # Randomness
//
// Every replica draws from exactly one *rand.Rand. Batches derive per-replica streams
// from a SimulationKey through PartitionedRNG so that runs are reproducible regardless
// of how many replicas execute concurrently. The active generator of a batch is also
// registered in a context-scoped RandomRegistry.
package sim
