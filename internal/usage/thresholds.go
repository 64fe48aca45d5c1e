package usage

import "sort"

// DefaultThresholds are the plan-limit percentages that raise an alert.
var DefaultThresholds = []int{80, 90, 100}

// CrossedThresholds returns, ascending, every threshold reached by used out of
// limit. A limit of zero or less is unlimited and never crosses anything.
func CrossedThresholds(used, limit int, thresholds []int) []int {
	if limit <= 0 || used <= 0 {
		return nil
	}
	var out []int
	for _, t := range thresholds {
		if t > 0 && used*100 >= limit*t {
			out = append(out, t)
		}
	}
	sort.Ints(out)
	return out
}
