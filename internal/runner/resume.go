package runner

import "github.com/spacesedan/sentibatch/internal/models"

// Strategy decides which working-set items still need a verdict.
type Strategy string

const (
	// StrategyMembership treats an item as done when its headline is
	// already a key in the record.
	StrategyMembership Strategy = "membership"
	// StrategyCount assumes the first Len() items of the working set are
	// the ones already recorded and continues after them. It is only
	// correct when the input and its order are unchanged between runs and
	// the working set has no repeated headlines.
	StrategyCount Strategy = "count"
)

// State is the phase a run is in.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateResuming
	StateProcessing
	StateCheckpointing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StateResuming:
		return "Resuming"
	case StateProcessing:
		return "Processing"
	case StateCheckpointing:
		return "Checkpointing"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// planPending returns the working-set positions still to classify, in
// order, and the resume index reported to the user.
func planPending(workingSet []models.Headline, rec *models.SentimentRecord, strategy Strategy) ([]int, int) {
	if strategy == StrategyCount {
		start := rec.Len()
		if start > len(workingSet) {
			start = len(workingSet)
		}
		positions := make([]int, 0, len(workingSet)-start)
		for i := start; i < len(workingSet); i++ {
			positions = append(positions, i)
		}
		return positions, start
	}

	var positions []int
	for i, h := range workingSet {
		if !rec.Has(h) {
			positions = append(positions, i)
		}
	}
	if len(positions) == 0 {
		return nil, len(workingSet)
	}
	return positions, positions[0]
}
