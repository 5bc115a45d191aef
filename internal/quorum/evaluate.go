package quorum

import "fmt"

// Evaluate computes the decision for the given tally under a policy. It is a
// pure function of its arguments; totalEligible is always the frozen snapshot
// size, never the live roster.
//
// Unanimous: a single reject is fatal; approved only when every eligible voter
// approved. Percentage P: approved once approve/total reaches P; rejected once
// rejections have made P mathematically unreachable even if every remaining
// voter approves (reject/total exceeds 100-P). Integer math throughout, no
// float rounding.
//
// Boundaries: P=0 is satisfied by any tally, so the first evaluation approves.
// P=100 matches unanimity: all must approve, any reject is fatal.
func Evaluate(approve, reject, totalEligible int, p Policy) (Status, error) {
	if totalEligible <= 0 {
		return "", fmt.Errorf("%w: totalEligible=%d", ErrInvariant, totalEligible)
	}
	if p.Unanimous {
		if reject >= 1 {
			return StatusRejected, nil
		}
		if approve == totalEligible {
			return StatusApproved, nil
		}
		return StatusPending, nil
	}
	if p.Percentage == nil {
		return "", fmt.Errorf("%w: percentage policy without threshold", ErrInvariant)
	}
	pct := *p.Percentage
	if pct < 0 || pct > 100 {
		return "", fmt.Errorf("%w: threshold %d out of range", ErrInvariant, pct)
	}
	// approve*100/total >= pct, without division
	if approve*100 >= pct*totalEligible {
		return StatusApproved, nil
	}
	// reject*100/total > 100-pct: threshold unreachable, early exit
	if reject*100 > (100-pct)*totalEligible {
		return StatusRejected, nil
	}
	return StatusPending, nil
}
