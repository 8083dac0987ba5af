package interpreter

import (
	"time"

	"github.com/nexuswasm/wazero/internal/wasm"
)

// CostTable assigns a gas cost per opcode family, indexed by the opcode's
// prefix byte (0x00 for the unprefixed space, 0xFB-0xFE for the GC/SIMD/
// atomics/misc bands) rather than by the fully-resolved Opcode value
// (DESIGN.md's cost-table Open Question: prefixed instructions share their
// prefix byte's slot, trading precision for a table sized 256 instead of the
// full opcode space).
type CostTable [256]uint64

// DefaultCostTable assigns 1 gas per unprefixed instruction and a flat 4 gas
// to every prefixed-band instruction, reflecting that those families tend to
// do more work per instruction (bulk copies, SIMD lanes, atomic RMWs).
func DefaultCostTable() *CostTable {
	var t CostTable
	for i := range t {
		t[i] = 1
	}
	t[0xfb], t[0xfc], t[0xfd], t[0xfe] = 4, 4, 4, 4
	return &t
}

func (c *CostTable) costOf(op wasm.Opcode) uint64 {
	if op > 0xff {
		switch {
		case op >= 0x5000:
			return c[0xfb]
		case op >= 0x4000:
			return c[0xfe]
		case op >= 0x1000:
			return c[0xfd]
		default:
			return c[0xfc]
		}
	}
	return c[byte(op)]
}

// Statistics accumulates gas spend and wall-clock execution time, per the
// measure/time hooks described in SPEC_FULL.md's Statistics supplement.
type Statistics struct {
	InstructionsExecuted uint64
	GasUsed              uint64
	Elapsed              time.Duration

	started time.Time
}

func (s *Statistics) start() { s.started = time.Now() }

func (s *Statistics) stop() {
	if !s.started.IsZero() {
		s.Elapsed += time.Since(s.started)
	}
}

func (s *Statistics) record(n, gas uint64) {
	s.InstructionsExecuted += n
	s.GasUsed += gas
}
