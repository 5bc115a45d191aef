package quorum

import (
	"errors"
	"testing"
)

func pct(p int) Policy { return PercentPolicy(p) }

func TestEvaluate_Unanimous(t *testing.T) {
	cases := []struct {
		name                    string
		approve, reject, total  int
		want                    Status
	}{
		{"no votes", 0, 0, 4, StatusPending},
		{"partial approvals", 3, 0, 4, StatusPending},
		{"all approve", 4, 0, 4, StatusApproved},
		{"single reject is fatal", 3, 1, 4, StatusRejected},
		{"first vote reject", 0, 1, 4, StatusRejected},
		{"sole voter approves", 1, 0, 1, StatusApproved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.approve, tc.reject, tc.total, UnanimousPolicy())
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
		})
	}
}

func TestEvaluate_Percentage(t *testing.T) {
	cases := []struct {
		name                   string
		approve, reject, total int
		threshold              int
		want                   Status
	}{
		{"1 of 3 under 50", 1, 0, 3, 50, StatusPending},
		{"2 of 3 over 50", 2, 0, 3, 50, StatusApproved},
		{"exact threshold counts", 1, 0, 2, 50, StatusApproved},
		{"reject majority unreachable", 0, 2, 3, 50, StatusRejected},
		{"one reject of three still winnable", 0, 1, 3, 50, StatusPending},
		{"75 needs 3 of 4", 2, 0, 4, 75, StatusPending},
		{"75 reached", 3, 0, 4, 75, StatusApproved},
		{"75 blocked by 2 rejects", 0, 2, 4, 75, StatusRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.approve, tc.reject, tc.total, pct(tc.threshold))
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
		})
	}
}

// 0% is satisfied by any tally, so the first evaluation approves; 100% behaves
// exactly like unanimity.
func TestEvaluate_ThresholdBoundaries(t *testing.T) {
	if got, _ := Evaluate(0, 0, 3, pct(0)); got != StatusApproved {
		t.Fatalf("P=0 should approve immediately, got %s", got)
	}
	if got, _ := Evaluate(2, 0, 3, pct(100)); got != StatusPending {
		t.Fatalf("P=100 partial should stay pending, got %s", got)
	}
	if got, _ := Evaluate(3, 0, 3, pct(100)); got != StatusApproved {
		t.Fatalf("P=100 all approve should approve, got %s", got)
	}
	if got, _ := Evaluate(0, 1, 3, pct(100)); got != StatusRejected {
		t.Fatalf("P=100 single reject should reject, got %s", got)
	}
}

func TestEvaluate_InvariantViolations(t *testing.T) {
	if _, err := Evaluate(0, 0, 0, UnanimousPolicy()); !errors.Is(err, ErrInvariant) {
		t.Fatalf("zero eligible should violate invariant, got %v", err)
	}
	if _, err := Evaluate(0, 0, 3, Policy{}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("corrupt policy should violate invariant, got %v", err)
	}
	bad := 120
	if _, err := Evaluate(0, 0, 3, Policy{Percentage: &bad}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("out-of-range threshold should violate invariant, got %v", err)
	}
}

// Approval and rejection conditions can never hold for the same vote sequence.
func TestEvaluate_MutuallyExclusive(t *testing.T) {
	for total := 1; total <= 6; total++ {
		for p := 0; p <= 100; p += 5 {
			for approve := 0; approve <= total; approve++ {
				for reject := 0; approve+reject <= total; reject++ {
					apprHit := approve*100 >= p*total
					rejHit := reject*100 > (100-p)*total
					if apprHit && rejHit {
						t.Fatalf("both terminal at total=%d P=%d approve=%d reject=%d", total, p, approve, reject)
					}
				}
			}
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := UnanimousPolicy().Validate(); err != nil {
		t.Fatal(err)
	}
	if err := PercentPolicy(50).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := PercentPolicy(0).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := PercentPolicy(100).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (Policy{}).Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("neither policy should be invalid, got %v", err)
	}
	if err := PercentPolicy(101).Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("101%% should be invalid, got %v", err)
	}
	if err := PercentPolicy(-1).Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("-1%% should be invalid, got %v", err)
	}
	n := 50
	if err := (Policy{Unanimous: true, Percentage: &n}).Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("both policies should be invalid, got %v", err)
	}
}
