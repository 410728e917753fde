package alerts

import (
	"strconv"
	"strings"

	"github.com/pitwall/pitwall/server/internal/state"
)

// evalCondition evaluates a "field op value" expression against one driver.
// It returns whether the condition holds and the observed numeric value
// (0 for text and flag fields). Malformed conditions never fire.
func evalCondition(cond string, d state.DriverState) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "action":
		switch op {
		case "==":
			return strings.EqualFold(d.PitRecommendation, rhs), 0
		case "!=":
			return d.PitRecommendation != "" && !strings.EqualFold(d.PitRecommendation, rhs), 0
		}
		return false, 0

	case "undercut", "overcut":
		want, err := strconv.ParseBool(rhs)
		if err != nil || op != "==" {
			return false, 0
		}
		v := d.UndercutThreat
		if field == "overcut" {
			v = d.OvercutOpportunity
		}
		return v == want, 0

	default:
		v, ok := numericField(field, d)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericField reports false for unknown fields and for values the driver
// does not have yet.
func numericField(field string, d state.DriverState) (float64, bool) {
	switch field {
	case "cliff_risk":
		return d.CliffRisk, true
	case "deg_slope":
		return d.DegSlope, true
	case "tyre_age":
		return float64(d.TyreAge), true
	case "pit_confidence":
		return d.PitConfidence, d.PitRecommendation != ""
	case "model_confidence":
		return d.ModelConfidence, true
	case "position":
		return float64(d.Position), d.Position > 0
	case "gap_to_ahead":
		if d.GapToAhead == nil {
			return 0, false
		}
		return *d.GapToAhead, true
	default:
		return 0, false
	}
}

func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
