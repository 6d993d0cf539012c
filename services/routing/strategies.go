package routing

// Strategy names a candidate ordering policy
type Strategy string

const (
	// StrategyCostOptimized tries providers cheapest first
	StrategyCostOptimized Strategy = "cost_optimized"

	// StrategyPerformance tries providers in a fixed quality ranking
	StrategyPerformance Strategy = "performance"

	// StrategyLoadBalanced starts with the least used provider
	StrategyLoadBalanced Strategy = "load_balanced"

	// StrategySpecialized starts with the provider designated for the task type
	StrategySpecialized Strategy = "specialized"

	// StrategyFailover tries the primary provider, then the configured fallbacks
	StrategyFailover Strategy = "failover"
)

// Strategies lists every strategy the router accepts
func Strategies() []Strategy {
	return []Strategy{
		StrategyCostOptimized,
		StrategyPerformance,
		StrategyLoadBalanced,
		StrategySpecialized,
		StrategyFailover,
	}
}

// ParseStrategy reports whether name is a known strategy
func ParseStrategy(name string) (Strategy, bool) {
	for _, s := range Strategies() {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// Plan is the output of a strategy: who to try, in order
type Plan struct {
	Strategy   Strategy
	TaskType   string
	Candidates []string
}

// DefaultPerformanceOrder is the hand-ranked order used by StrategyPerformance
func DefaultPerformanceOrder() []string {
	return []string{"openai", "anthropic", "google", "cohere"}
}

func (r *Router) planCostOptimized() Plan {
	return Plan{Strategy: StrategyCostOptimized, Candidates: r.costOrder()}
}

func (r *Router) planPerformance() Plan {
	order := r.config.PerformanceOrder
	if len(order) == 0 {
		order = DefaultPerformanceOrder()
	}
	return Plan{Strategy: StrategyPerformance, Candidates: r.registered(order)}
}

func (r *Router) planLoadBalanced() Plan {
	order := r.costOrder()
	if len(order) == 0 {
		return Plan{Strategy: StrategyLoadBalanced}
	}

	r.mu.Lock()
	leastUsed := order[0]
	minCount := r.requestCounts[leastUsed]
	for _, name := range order[1:] {
		if count := r.requestCounts[name]; count < minCount {
			minCount = count
			leastUsed = name
		}
	}
	r.mu.Unlock()

	return Plan{Strategy: StrategyLoadBalanced, Candidates: withFirst(leastUsed, order)}
}

func (r *Router) planSpecialized(prompt string) Plan {
	task := ClassifyTask(prompt)
	order := r.costOrder()
	plan := Plan{Strategy: StrategySpecialized, TaskType: task, Candidates: order}

	designated := r.config.Specializations[task]
	if designated == "" {
		designated = DefaultSpecializations()[task]
	}
	if !r.providers.Has(designated) {
		designated = r.cheapestTagged(task, order)
	}
	if designated != "" {
		plan.Candidates = withFirst(designated, order)
	}
	return plan
}

func (r *Router) planFailover() Plan {
	chain := make([]string, 0, len(r.config.FallbackProviders)+1)
	if r.config.PrimaryProvider != "" {
		chain = append(chain, r.config.PrimaryProvider)
	}
	chain = append(chain, r.config.FallbackProviders...)
	return Plan{Strategy: StrategyFailover, Candidates: r.registered(dedupe(chain))}
}

// cheapestTagged returns the first provider in the cost order whose
// descriptor carries the task tag
func (r *Router) cheapestTagged(task string, order []string) string {
	for _, name := range order {
		desc, err := r.providers.Describe(name)
		if err != nil {
			continue
		}
		if desc.HasTag(task) {
			return name
		}
	}
	return ""
}

// costOrder is the configured cost order, or registered providers by
// ascending rate. Only registered providers are returned.
func (r *Router) costOrder() []string {
	if len(r.config.CostOrder) > 0 {
		order := r.registered(r.config.CostOrder)
		// Providers missing from the override go last, cheapest first
		var rest []string
		for _, name := range r.providers.ListProviders() {
			if !contains(order, name) {
				rest = append(rest, name)
			}
		}
		return append(order, r.estimator.CheapestFirst(rest)...)
	}
	return r.estimator.CheapestFirst(r.providers.ListProviders())
}

func (r *Router) registered(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range dedupe(names) {
		if r.providers.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

func withFirst(first string, order []string) []string {
	out := make([]string, 0, len(order)+1)
	out = append(out, first)
	for _, name := range order {
		if name != first {
			out = append(out, name)
		}
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
