package models

import (
	"time"

	id "evalledger/pkg/domain"
)

// ResultsIngested announces results committed for one run.
type ResultsIngested struct {
	RunID      id.RunID          `json:"run_id"`
	ResultIDs  []id.TestResultID `json:"result_ids"`
	UserID     id.UserID         `json:"user_id"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	IngestedAt time.Time         `json:"ingested_at"`
}

// GroupByRun builds one event per run, in first-seen run order.
func GroupByRun(results []*TestResult, actor id.UserID, at time.Time) []ResultsIngested {
	var order []id.RunID
	byRun := make(map[id.RunID]*ResultsIngested)
	for _, r := range results {
		ev, ok := byRun[r.RunID]
		if !ok {
			ev = &ResultsIngested{RunID: r.RunID, UserID: actor, IngestedAt: at}
			byRun[r.RunID] = ev
			order = append(order, r.RunID)
		}
		ev.ResultIDs = append(ev.ResultIDs, r.ID)
		if r.Success {
			ev.Succeeded++
		} else {
			ev.Failed++
		}
	}
	out := make([]ResultsIngested, 0, len(order))
	for _, runID := range order {
		out = append(out, *byRun[runID])
	}
	return out
}
