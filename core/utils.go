package core

import (
	"github.com/encodeous/ripd/state"
)

// AddMetric adds a link cost to a metric, saturating at INF.
func AddMetric(a, b uint32) uint32 {
	if a >= state.INF || b >= state.INF {
		return state.INF
	}
	return min(uint32(state.INF), a+b)
}
