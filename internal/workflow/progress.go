package workflow

import (
	"math"

	"facility-risk/internal/models"
)

// Progress is round(100 * |completed ∩ tasks| / |tasks|); 0 for a protocol
// without tasks. It only reports 100 once every task is done, so a large
// checklist one task short stays at 99.
func Progress(p models.Protocol, completed []string) int {
	total := p.TaskCount()
	if total == 0 {
		return 0
	}
	done := len(orderedTaskSet(p, completed))
	pct := int(math.Round(100 * float64(done) / float64(total)))
	if pct == 100 && done < total {
		return 99
	}
	return pct
}

// orderedTaskSet returns the protocol's task ids present in completed, in
// protocol order and without duplicates. Unknown ids are dropped.
func orderedTaskSet(p models.Protocol, completed []string) []string {
	set := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for _, id := range p.TaskIDs() {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func hasTask(p models.Protocol, taskID string) bool {
	for _, id := range p.TaskIDs() {
		if id == taskID {
			return true
		}
	}
	return false
}
