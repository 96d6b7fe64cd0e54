package monitor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrGateClosed is returned when the metrics do not allow advancing the phase.
var ErrGateClosed = errors.New("advancement gate closed")

// Gate holds the thresholds that must be met before the phase is advanced.
type Gate struct {
	// MinSuccessRate applies to every write, shadow and read window with samples.
	MinSuccessRate float64
	// MaxDrift bounds the drift records observed since the last phase change.
	// Negative disables the check.
	MaxDrift int64
}

// Check returns nil when snapshot satisfies g.
func (g Gate) Check(snapshot map[string]float64) error {
	var reasons []string
	if g.MaxDrift >= 0 && snapshot["drift.since_mark"] > float64(g.MaxDrift) {
		reasons = append(reasons, fmt.Sprintf("%d drift records since last transition (max %d)", int64(snapshot["drift.since_mark"]), g.MaxDrift))
	}
	for key, v := range snapshot {
		window, ok := strings.CutSuffix(key, ".success_rate")
		if !ok || snapshot[window+".count"] == 0 {
			continue
		}
		if v < g.MinSuccessRate {
			reasons = append(reasons, fmt.Sprintf("%s success rate %.3f below %.3f", window, v, g.MinSuccessRate))
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	sort.Strings(reasons)
	return fmt.Errorf("%w: %s", ErrGateClosed, strings.Join(reasons, "; "))
}
