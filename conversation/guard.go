package conversation

import "fmt"

// Guard drops stage changes that are not on its allow-list. A nil Guard
// allows everything.
type Guard struct {
	allowed map[string]map[string]bool
}

func NewGuard(transitions map[string][]string) *Guard {
	g := &Guard{allowed: map[string]map[string]bool{}}
	for from, tos := range transitions {
		set := map[string]bool{}
		for _, to := range tos {
			set[to] = true
		}
		g.allowed[from] = set
	}
	return g
}

func DefaultGuard() *Guard {
	return NewGuard(map[string][]string{
		StageInitial:       {StageGatheringInfo, StageConfirming, StageCompleted, StageTransferred},
		StageGatheringInfo: {StageInitial, StageConfirming, StageCompleted, StageTransferred},
		StageConfirming:    {StageGatheringInfo, StageCompleted, StageTransferred},
		StageCompleted:     {StageInitial, StageGatheringInfo, StageTransferred},
		StageTransferred:   {StageInitial, StageGatheringInfo},
	})
}

func (g *Guard) Allow(from, to string) bool {
	if g == nil || from == to {
		return true
	}
	return g.allowed[from][to]
}

// Filter removes an illegal stage from update. It reports the rejection so
// the caller can log it; the other keys are kept.
func (g *Guard) Filter(current State, update map[string]any) (map[string]any, error) {
	if g == nil || update == nil {
		return update, nil
	}
	raw, ok := update[KeyStage]
	if !ok {
		return update, nil
	}
	to, _ := raw.(string)
	from := current.Stage()
	if to != "" && IsKnownStage(to) && g.Allow(from, to) {
		return update, nil
	}
	out := make(map[string]any, len(update))
	for k, v := range update {
		if k != KeyStage {
			out[k] = v
		}
	}
	return out, fmt.Errorf("stage transition %q -> %v is not allowed", from, raw)
}
