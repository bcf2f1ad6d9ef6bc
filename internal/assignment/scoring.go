package assignment

import "sort"

// Score computes a candidate's weighted score against category, across
// four factors. MaxEfficiency must be positive; a candidate
// with MaxEfficiency <= 0 scores 0 on the efficiency factor.
func Score(c Candidate, category string, w Weights) ScoredCandidate {
	specMatch, specScore := specializationScore(c, category)
	effScore := efficiencyScore(c)
	workloadScore := workloadScore(c)
	availScore := 0.0
	if c.Available {
		availScore = 1.0
	}

	total := w.Specialization*specScore + w.Efficiency*effScore + w.Workload*workloadScore + w.Availability*availScore
	if total < 0 {
		total = 0
	}
	if total > 1 {
		total = 1
	}

	return ScoredCandidate{
		Candidate:           c,
		SpecializationMatch: specMatch,
		SpecializationScore: specScore,
		EfficiencyScore:     effScore,
		WorkloadScore:       workloadScore,
		AvailabilityScore:   availScore,
		TotalScore:          total,
	}
}

func specializationScore(c Candidate, category string) (matched bool, score float64) {
	if category == "" {
		return true, 1.0
	}
	if c.hasSpecialization(category) {
		return true, 1.0
	}
	if c.hasSpecialization(generalSpecialization) {
		return false, 0.7
	}
	return false, 0.5
}

func efficiencyScore(c Candidate) float64 {
	if c.MaxEfficiency <= 0 {
		return 0
	}
	score := c.Efficiency / c.MaxEfficiency
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func workloadScore(c Candidate) float64 {
	if c.MaxConcurrent <= 0 || c.ActiveWorkCount >= c.MaxConcurrent {
		return 0
	}
	score := 1 - float64(c.ActiveWorkCount)/float64(c.MaxConcurrent)
	if score < 0.1 {
		return 0.1
	}
	return score
}

// Rank scores every candidate against category, discards anyone below
// floor, and returns the survivors sorted best-first. Ties break by
// (specialization match, then workload score, then executor id ascending).
func Rank(candidates []Candidate, category string, w Weights, floor float64) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		s := Score(c, category, w)
		if s.TotalScore < floor {
			continue
		}
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.SpecializationMatch != b.SpecializationMatch {
			return a.SpecializationMatch
		}
		if a.WorkloadScore != b.WorkloadScore {
			return a.WorkloadScore > b.WorkloadScore
		}
		return a.Candidate.ExecutorID < b.Candidate.ExecutorID
	})

	return scored
}
