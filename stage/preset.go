package stage

// WorkloadClass names a workload shape with a recommended sizing preset.
type WorkloadClass string

const (
	WorkloadGeneral       WorkloadClass = "general"
	WorkloadCPUBound      WorkloadClass = "cpu-bound"
	WorkloadIOBound       WorkloadClass = "io-bound"
	WorkloadNetworkBound  WorkloadClass = "network-bound"
)

// ResolvePreset maps a workload class and the detected core count to a
// ParallelOptions sized for that shape of work. Unknown classes fall back
// to WorkloadGeneral. cores <= 0 is treated as 1.
func ResolvePreset(class WorkloadClass, cores int) ParallelOptions {
	if cores <= 0 {
		cores = 1
	}
	switch class {
	case WorkloadCPUBound:
		return ParallelOptions{
			MaxDegreeOfParallelism: cores,
			MaxQueueLength:         2 * cores,
			OutputBufferCapacity:   4 * cores,
			QueuePolicy:            QueuePolicyBlock,
		}
	case WorkloadIOBound:
		return ParallelOptions{
			MaxDegreeOfParallelism: 4 * cores,
			MaxQueueLength:         8 * cores,
			OutputBufferCapacity:   16 * cores,
			QueuePolicy:            QueuePolicyBlock,
		}
	case WorkloadNetworkBound:
		dop := 8 * cores
		if dop > 100 {
			dop = 100
		}
		return ParallelOptions{
			MaxDegreeOfParallelism: dop,
			MaxQueueLength:         200,
			OutputBufferCapacity:   400,
			QueuePolicy:            QueuePolicyBlock,
		}
	default: // WorkloadGeneral
		return ParallelOptions{
			MaxDegreeOfParallelism: 2 * cores,
			MaxQueueLength:         4 * cores,
			OutputBufferCapacity:   8 * cores,
			QueuePolicy:            QueuePolicyBlock,
		}
	}
}
