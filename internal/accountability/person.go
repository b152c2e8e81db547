package accountability

import (
	"math"

	"github.com/google/uuid"

	"github.com/ashita-ai/shinrai/internal/model"
)

// Factor weights. They sum to 1.
const (
	WeightCompletion       = 0.35
	WeightOnTime           = 0.20
	WeightMilestoneQuality = 0.15
	WeightCommunication    = 0.15
	WeightCommunity        = 0.10
	WeightResponse         = 0.05

	neutralRate           = 50.0
	reportsPerProject     = 6
	maxFlagPenalty        = 50
	scoreFloor, scoreCeil = 0, 100
)

var severityPenalty = map[model.FlagSeverity]int{
	model.SeverityLow:      3,
	model.SeverityMedium:   7,
	model.SeverityHigh:     15,
	model.SeverityCritical: 25,
}

// Factor is one weighted input to a person score. Rate is on a 0-100 scale.
type Factor struct {
	Rate       float64 `json:"rate"`
	Weight     float64 `json:"weight"`
	SampleSize int     `json:"sample_size"`
}

func (f Factor) weighted() float64 { return f.Rate * f.Weight }

// Breakdown holds the six factors of a person score.
type Breakdown struct {
	CompletionRate   Factor `json:"completion_rate"`
	OnTimeDelivery   Factor `json:"on_time_delivery"`
	MilestoneQuality Factor `json:"milestone_quality"`
	Communication    Factor `json:"communication"`
	CommunityRating  Factor `json:"community_rating"`
	ResponseRate     Factor `json:"response_rate"`
}

// PersonResult is a computed, not yet persisted, person score.
type PersonResult struct {
	PersonID       uuid.UUID        `json:"person_id"`
	Score          int              `json:"score"`
	BaseScore      int              `json:"base_score"`
	FlagPenalty    int              `json:"flag_penalty"`
	ConfirmedFlags int              `json:"confirmed_flags"`
	Badge          model.Badge      `json:"badge"`
	Confidence     model.Confidence `json:"confidence"`
	DataPoints     int              `json:"data_points"`
	Breakdown      Breakdown        `json:"breakdown"`
}

// ComputePerson scores one person from their gathered activity. Empty
// samples fall back to a neutral rate so every input produces a score.
func ComputePerson(a model.PersonActivity) PersonResult {
	b := Breakdown{
		CompletionRate:   completionRate(a.Projects),
		OnTimeDelivery:   onTimeDelivery(a.Milestones),
		MilestoneQuality: milestoneQuality(a.Milestones),
		Communication:    communication(a.ReportsSubmitted, len(a.Projects)),
		CommunityRating:  communityRating(a.ReviewRatings),
		ResponseRate:     responseRate(a.ConcernsResponded, a.ConcernsTotal),
	}

	base := round(b.CompletionRate.weighted() +
		b.OnTimeDelivery.weighted() +
		b.MilestoneQuality.weighted() +
		b.Communication.weighted() +
		b.CommunityRating.weighted() +
		b.ResponseRate.weighted())

	penalty := FlagPenalty(a.ConfirmedFlags)
	score := clamp(base - penalty)

	// The communication sample is an estimate rather than an observation and
	// does not count toward confidence.
	dataPoints := b.CompletionRate.SampleSize +
		b.OnTimeDelivery.SampleSize +
		b.MilestoneQuality.SampleSize +
		b.CommunityRating.SampleSize +
		b.ResponseRate.SampleSize

	return PersonResult{
		PersonID:       a.PersonID,
		Score:          score,
		BaseScore:      base,
		FlagPenalty:    penalty,
		ConfirmedFlags: len(a.ConfirmedFlags),
		Badge:          model.BadgeFor(score),
		Confidence:     model.ConfidenceFor(dataPoints),
		DataPoints:     dataPoints,
		Breakdown:      b,
	}
}

// FlagPenalty sums the per-severity penalty of confirmed flags, capped at 50.
// Unrecognised severities count as medium.
func FlagPenalty(severities []model.FlagSeverity) int {
	total := 0
	for _, s := range severities {
		p, ok := severityPenalty[s]
		if !ok {
			p = severityPenalty[model.SeverityMedium]
		}
		total += p
	}
	return min(total, maxFlagPenalty)
}

func completionRate(projects []model.ProjectOutcome) Factor {
	funded, completed := 0, 0
	for _, p := range projects {
		if p.FundingStatus != model.FundingFunded {
			continue
		}
		funded++
		if p.Status == model.ProjectCompleted {
			completed++
		}
	}
	return ratio(completed, funded, WeightCompletion, neutralRate)
}

func onTimeDelivery(milestones []model.MilestoneOutcome) Factor {
	total, onTime := 0, 0
	for _, m := range milestones {
		if m.Status != model.MilestoneCompleted || m.DueDate == nil || m.PoAApprovedAt == nil {
			continue
		}
		total++
		if !m.PoAApprovedAt.After(*m.DueDate) {
			onTime++
		}
	}
	return ratio(onTime, total, WeightOnTime, neutralRate)
}

func milestoneQuality(milestones []model.MilestoneOutcome) Factor {
	total, approved := 0, 0
	for _, m := range milestones {
		if m.Status != model.MilestoneCompleted {
			continue
		}
		total++
		if m.PoAStatus == model.PoAApproved {
			approved++
		}
	}
	return ratio(approved, total, WeightMilestoneQuality, neutralRate)
}

func communication(submitted, projects int) Factor {
	expected := projects * reportsPerProject
	f := Factor{Rate: neutralRate, Weight: WeightCommunication, SampleSize: expected}
	if expected > 0 {
		f.Rate = math.Min(float64(submitted)/float64(expected)*100, 100)
	}
	return f
}

func communityRating(ratings []int) Factor {
	f := Factor{Rate: neutralRate, Weight: WeightCommunity, SampleSize: len(ratings)}
	if len(ratings) == 0 {
		return f
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	avg := float64(sum) / float64(len(ratings))
	f.Rate = (avg - 1) / 4 * 100
	return f
}

func responseRate(responded, total int) Factor {
	return ratio(responded, total, WeightResponse, 100)
}

func ratio(num, den int, weight, empty float64) Factor {
	f := Factor{Rate: empty, Weight: weight, SampleSize: den}
	if den > 0 {
		f.Rate = float64(num) / float64(den) * 100
	}
	return f
}

// round rounds halves toward positive infinity.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clamp(v int) int {
	return max(scoreFloor, min(scoreCeil, v))
}

// scoreRow converts a result into the stored projection with sub-scores
// rounded for display.
func scoreRow(r PersonResult) model.AccountabilityScore {
	b := r.Breakdown
	return model.AccountabilityScore{
		PersonID:           r.PersonID,
		OverallScore:       r.Score,
		CompletionScore:    round(b.CompletionRate.Rate),
		DeliveryScore:      round(b.OnTimeDelivery.Rate),
		CommunityScore:     round(b.CommunityRating.Rate),
		EfficiencyScore:    round(b.MilestoneQuality.Rate),
		CommunicationScore: round(b.Communication.Rate),
		FlagPenalty:        r.FlagPenalty,
		ConfirmedFlags:     r.ConfirmedFlags,
		Badge:              r.Badge,
		Confidence:         r.Confidence,
		DataPoints:         r.DataPoints,
		Status:             model.ScorePreview,
	}
}
