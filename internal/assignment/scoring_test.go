package assignment

import "testing"

// TestRank_WorkedExample reproduces the assignment worked example literally:
// request 250927-001, category "plumbing", candidates E1/E2/E3. With default
// weights E1 wins on specialization match despite E3's higher efficiency and
// lower workload; alternates are [E3, E2].
func TestRank_WorkedExample(t *testing.T) {
	candidates := []Candidate{
		{
			ExecutorID:      "E1",
			Active:          true,
			ExecutorRole:    true,
			Specializations: []string{"plumbing"},
			Efficiency:      85,
			MaxEfficiency:   92,
			ActiveWorkCount: 2,
			MaxConcurrent:   5,
			Available:       true,
		},
		{
			ExecutorID:      "E2",
			Active:          true,
			ExecutorRole:    true,
			Specializations: []string{"electrical"},
			Efficiency:      78,
			MaxEfficiency:   92,
			ActiveWorkCount: 1,
			MaxConcurrent:   6,
			Available:       true,
		},
		{
			ExecutorID:      "E3",
			Active:          true,
			ExecutorRole:    true,
			Specializations: []string{"general"},
			Efficiency:      92,
			MaxEfficiency:   92,
			ActiveWorkCount: 0,
			MaxConcurrent:   4,
			Available:       true,
		},
	}

	ranked := Rank(candidates, "plumbing", DefaultWeights(), DefaultScoreFloor)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked candidates, got %d", len(ranked))
	}

	if ranked[0].Candidate.ExecutorID != "E1" {
		t.Fatalf("expected E1 to win, got %s (score %.4f)", ranked[0].Candidate.ExecutorID, ranked[0].TotalScore)
	}
	if !ranked[0].SpecializationMatch {
		t.Fatal("expected E1's specialization match to be true")
	}
	if ranked[1].Candidate.ExecutorID != "E3" {
		t.Fatalf("expected E3 as first alternate, got %s", ranked[1].Candidate.ExecutorID)
	}
	if ranked[2].Candidate.ExecutorID != "E2" {
		t.Fatalf("expected E2 as second alternate, got %s", ranked[2].Candidate.ExecutorID)
	}

	if ranked[0].TotalScore <= ranked[1].TotalScore {
		t.Fatalf("expected E1 score (%.4f) strictly above E3 score (%.4f)", ranked[0].TotalScore, ranked[1].TotalScore)
	}
}

func TestRank_BelowFloorIsDiscarded(t *testing.T) {
	candidates := []Candidate{
		{
			ExecutorID:      "low",
			Specializations: []string{"electrical"},
			Efficiency:      10,
			MaxEfficiency:   100,
			ActiveWorkCount: 9,
			MaxConcurrent:   10,
			Available:       false,
		},
	}

	ranked := Rank(candidates, "plumbing", DefaultWeights(), DefaultScoreFloor)
	if len(ranked) != 0 {
		t.Fatalf("expected candidate below floor to be discarded, got %d survivors", len(ranked))
	}
}

func TestRank_TieBreaksByWorkloadThenExecutorID(t *testing.T) {
	candidates := []Candidate{
		{ExecutorID: "b", Specializations: []string{"plumbing"}, Efficiency: 50, MaxEfficiency: 50, ActiveWorkCount: 0, MaxConcurrent: 10, Available: true},
		{ExecutorID: "a", Specializations: []string{"plumbing"}, Efficiency: 50, MaxEfficiency: 50, ActiveWorkCount: 0, MaxConcurrent: 10, Available: true},
	}

	ranked := Rank(candidates, "plumbing", DefaultWeights(), DefaultScoreFloor)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(ranked))
	}
	if ranked[0].TotalScore != ranked[1].TotalScore {
		t.Fatalf("expected equal scores for an exact tie-break test, got %.4f vs %.4f", ranked[0].TotalScore, ranked[1].TotalScore)
	}
	if ranked[0].Candidate.ExecutorID != "a" {
		t.Fatalf("expected executor id ascending tie-break to pick 'a' first, got %s", ranked[0].Candidate.ExecutorID)
	}
}

func TestWorkloadScore_ZeroAtCapFloorOtherwise(t *testing.T) {
	c := Candidate{ActiveWorkCount: 10, MaxConcurrent: 10}
	if got := workloadScore(c); got != 0 {
		t.Fatalf("expected workload score 0 at cap, got %.4f", got)
	}

	c2 := Candidate{ActiveWorkCount: 9, MaxConcurrent: 10}
	if got := workloadScore(c2); got < 0.1 {
		t.Fatalf("expected workload score floored at 0.1, got %.4f", got)
	}
}
