package simulate

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// HardCap is the largest share of the ceiling a spike may reach.
	HardCap = 0.95
	// DefaultBlockSize is the size of a single allocation.
	DefaultBlockSize = 1 << 20
)

var ErrInvalidFraction = errors.New("target fraction must be in (0, 1)")

// SpikeReport describes one completed spike.
type SpikeReport struct {
	Ceiling   uint64
	Target    uint64
	StartUsed uint64
	Allocated uint64
	Blocks    int
}

// MemorySpiker allocates memory up to a share of a ceiling and releases it.
type MemorySpiker struct {
	// Ceiling returns the memory ceiling in bytes. Read once per spike.
	Ceiling func() (uint64, error)
	// Used returns the bytes in use at the start of a spike.
	Used      func() uint64
	BlockSize int
}

// NewMemorySpiker creates a spiker with a fixed ceiling in bytes. A zero
// ceiling means the Go soft memory limit when one is set and the total host
// memory otherwise.
func NewMemorySpiker(ceiling uint64) *MemorySpiker {
	s := &MemorySpiker{
		Ceiling:   processCeiling,
		Used:      heapInUse,
		BlockSize: DefaultBlockSize,
	}
	if ceiling > 0 {
		s.Ceiling = func() (uint64, error) { return ceiling, nil }
	}
	return s
}

func processCeiling() (uint64, error) {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		return uint64(limit), nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read host memory: %w", err)
	}
	return vm.Total, nil
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Spike allocates blocks until usage reaches targetFraction of the ceiling,
// then drops them all. The ceiling is read once and the fraction is clamped
// to HardCap, so repeated spikes never grow past HardCap of the ceiling.
func (s *MemorySpiker) Spike(targetFraction float64) (SpikeReport, error) {
	if !(targetFraction > 0 && targetFraction < 1) {
		return SpikeReport{}, fmt.Errorf("%w: %v", ErrInvalidFraction, targetFraction)
	}
	if targetFraction > HardCap {
		targetFraction = HardCap
	}

	ceiling, err := s.Ceiling()
	if err != nil {
		return SpikeReport{}, err
	}
	blockSize := s.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	report := SpikeReport{
		Ceiling:   ceiling,
		Target:    uint64(float64(ceiling) * targetFraction),
		StartUsed: s.Used(),
	}
	if report.StartUsed >= report.Target {
		return report, nil
	}

	maxBlocks := int((report.Target - report.StartUsed) / uint64(blockSize))
	report.Blocks = fill(maxBlocks, blockSize)
	report.Allocated = uint64(report.Blocks) * uint64(blockSize)
	runtime.GC()

	return report, nil
}

// fill holds maxBlocks blocks at once and lets them go on return.
func fill(maxBlocks, blockSize int) int {
	blocks := make([][]byte, 0, maxBlocks)
	for len(blocks) < maxBlocks {
		block := make([]byte, blockSize)
		for i := range block {
			block[i] = 'x'
		}
		blocks = append(blocks, block)
	}
	runtime.KeepAlive(blocks)
	return len(blocks)
}
