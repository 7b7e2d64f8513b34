package router

// NewStrategyByName builds the configured Strategy by its spec.md §6.4
// router.strategy name, table-selected rather than dynamically dispatched
// (spec.md §4.4, design note in SPEC_FULL.md §3/C4).
func NewStrategyByName(name string, highPriorityThreshold int) Strategy {
	switch name {
	case "affinity":
		return AffinityStrategy{}
	case "round_robin":
		return &RoundRobinStrategy{}
	case "priority":
		return &PriorityStrategy{HighPriorityThreshold: highPriorityThreshold}
	case "least_loaded":
		return LeastLoadedStrategy{}
	default:
		return LeastLoadedStrategy{}
	}
}
