package queue

import "strings"

// Scoring weights and thresholds. The calculator is a transparent weighted
// additive model, not a statistical one: every contribution is auditable and
// the reason string lists exactly the factors that fired.
const (
	severityWeight = 4

	ageBonusSenior     = 25 // age >= 75
	ageBonusElderly    = 20 // 65 <= age < 75
	ageBonusMiddleAged = 10 // 50 <= age < 65
	ageBonusInfant     = 15 // age < 5
	ageBonusChild      = 8  // 5 <= age < 12

	chronicBase        = 10
	chronicPerCond     = 3
	chronicPerCondCap  = 15
	comorbidityMinimum = 2 // count at which "multiple comorbidities" applies

	ruralUplift = 10

	waitDivisor   = 10
	waitBonusCap  = 10 // saturates at 100 minutes
	longWaitMins  = 60
)

// Score computes the bounded priority score and its explanation for one
// patient snapshot. It is pure and total for in-range input; callers validate
// age and severity ranges before invoking.
func Score(s Snapshot) (int, string) {
	var sum int
	var factors []string

	// 1. Symptom severity, the dominant factor.
	sum += s.Severity * severityWeight
	switch {
	case s.Severity >= 8:
		factors = append(factors, "critical severity")
	case s.Severity >= 6:
		factors = append(factors, "high severity")
	case s.Severity >= 4:
		factors = append(factors, "moderate severity")
	}

	// 2. Age tiers are disjoint; exactly one applies.
	switch {
	case s.Age >= 75:
		sum += ageBonusSenior
		factors = append(factors, "elderly patient")
	case s.Age >= 65:
		sum += ageBonusElderly
		factors = append(factors, "elderly patient")
	case s.Age >= 50:
		sum += ageBonusMiddleAged
		factors = append(factors, "middle-aged patient")
	case s.Age < 5:
		sum += ageBonusInfant
		factors = append(factors, "young child")
	case s.Age < 12:
		sum += ageBonusChild
		factors = append(factors, "child")
	}

	// 3. Chronic conditions. A set flag with no condition list still counts
	// as one condition.
	if s.Chronic {
		count := s.ChronicCount
		if count < 1 {
			count = 1
		}
		extra := count * chronicPerCond
		if extra > chronicPerCondCap {
			extra = chronicPerCondCap
		}
		sum += chronicBase + extra
		if count >= comorbidityMinimum {
			factors = append(factors, "multiple comorbidities")
		} else {
			factors = append(factors, "chronic condition")
		}
	}

	// 4. Rural fairness uplift: an equity adjustment, always flat.
	if s.Rural {
		sum += ruralUplift
		factors = append(factors, "rural location (fairness uplift applied)")
	}

	// 5. Wait-time bonus, saturating at waitBonusCap.
	wait := s.WaitingMinutes / waitDivisor
	if wait > waitBonusCap {
		wait = waitBonusCap
	}
	sum += wait
	if s.WaitingMinutes >= longWaitMins {
		factors = append(factors, "long wait time")
	}

	score := clamp(sum, 0, 100)
	return score, buildReason(score, s.Emergency, factors)
}

func buildReason(score int, emergency bool, factors []string) string {
	var level string
	switch {
	case emergency:
		level = "EMERGENCY"
	case score >= 80:
		level = "HIGH PRIORITY"
	case score >= 60:
		level = "MEDIUM-HIGH PRIORITY"
	case score >= 40:
		level = "MEDIUM PRIORITY"
	default:
		level = "LOW PRIORITY"
	}

	if len(factors) == 0 {
		return level + ": standard routine case"
	}
	return level + ": " + strings.Join(factors, ", ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
