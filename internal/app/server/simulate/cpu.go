// Package simulate holds the resource pressure simulators used by the fault
// endpoints. Every function here blocks the calling goroutine until the
// simulated pressure is over.
package simulate

import "math"

// DefaultCPUIterations is the side of the square iteration grid of BurnCPU.
const DefaultCPUIterations = 10_000

// BurnCPU keeps one core busy for iterations*iterations steps of a
// trigonometric series and returns the accumulated value.
func BurnCPU(iterations int) float64 {
	if iterations <= 0 {
		iterations = DefaultCPUIterations
	}
	var result float64
	for i := 0; i < iterations; i++ {
		for j := 0; j < iterations; j++ {
			result += math.Sin(math.Cos(math.Sqrt(float64(i * j))))
		}
	}
	return result
}
