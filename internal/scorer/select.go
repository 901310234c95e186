package scorer

import "github.com/sells-group/postpilot/internal/model"

// SelectDiverse picks up to count opportunities from opps, which must be
// sorted by descending score. The first pass admits at most ceil(count/2)
// per content type; remaining slots go to the next best regardless of type.
func SelectDiverse(opps []model.ContentOpportunity, count int) []model.ContentOpportunity {
	if count <= 0 || len(opps) == 0 {
		return nil
	}
	maxPerType := (count + 1) / 2

	selected := make([]model.ContentOpportunity, 0, count)
	taken := make([]bool, len(opps))
	perType := make(map[model.ContentType]int)

	for i, o := range opps {
		if len(selected) >= count {
			break
		}
		if perType[o.ContentType] < maxPerType {
			selected = append(selected, o)
			taken[i] = true
			perType[o.ContentType]++
		}
	}
	for i, o := range opps {
		if len(selected) >= count {
			break
		}
		if !taken[i] {
			selected = append(selected, o)
		}
	}
	return selected
}
