package accountability

import (
	"github.com/google/uuid"

	"github.com/ashita-ai/shinrai/internal/model"
	"github.com/ashita-ai/shinrai/internal/similarity"
)

// Organization modifiers.
const (
	bonusCompletedProposals = 10
	bonusThinHistory        = 5
	bonusConsistentTeam     = 5
	penaltySpreadCredit     = -10
	penaltyConcerningMember = -15

	consistentTeamOverlap = 0.5
	spreadCreditOverlap   = 0.3
)

// OrganizationResult is a computed, not yet persisted, organization score.
type OrganizationResult struct {
	OrganizationID uuid.UUID   `json:"organization_id"`
	Score          int         `json:"score"`
	Badge          model.Badge `json:"badge"`
	BaseScore      float64     `json:"base_score"`
	Modifier       int         `json:"modifier"`
	AverageOverlap *float64    `json:"average_overlap,omitempty"`
	PrimaryOverlap *float64    `json:"primary_overlap,omitempty"`
}

// ComputeOrganization scores an organization from its members' stored scores
// and the shape of its project teams.
func ComputeOrganization(p model.OrganizationProfile) OrganizationResult {
	res := OrganizationResult{OrganizationID: p.OrganizationID, BaseScore: neutralRate}
	if n := len(p.MemberScores); n > 0 {
		sum := 0
		for _, m := range p.MemberScores {
			sum += m.OverallScore
		}
		res.BaseScore = float64(sum) / float64(n)
	}

	if p.CompletedProposalsCount > 3 {
		res.Modifier += bonusCompletedProposals
	}

	if len(p.ProjectIDs) <= 1 {
		res.Modifier += bonusThinHistory
	} else {
		teams, primaries := projectTeams(p.ProjectPeople)
		avg := similarity.MeanPairwise(teams)
		primary := similarity.MeanPairwise(primaries)
		res.AverageOverlap, res.PrimaryOverlap = &avg, &primary
		if avg >= consistentTeamOverlap {
			res.Modifier += bonusConsistentTeam
		}
		if primary < spreadCreditOverlap {
			res.Modifier += penaltySpreadCredit
		}
	}

	for _, m := range p.MemberScores {
		if m.Badge == model.BadgeConcerning {
			res.Modifier += penaltyConcerningMember
			break
		}
	}

	res.Score = clamp(round(res.BaseScore + float64(res.Modifier)))
	res.Badge = model.BadgeFor(res.Score)
	return res
}

// projectTeams builds, per project in first-seen order, the set of linked
// people and the set of primary people. Projects without a primary are
// left out of the second list.
func projectTeams(links []model.ProjectPerson) (teams, primaries []similarity.Set) {
	index := make(map[uuid.UUID]int)
	var primary []similarity.Set
	for _, l := range links {
		i, ok := index[l.ProjectID]
		if !ok {
			i = len(teams)
			index[l.ProjectID] = i
			teams = append(teams, similarity.Set{})
			primary = append(primary, similarity.Set{})
		}
		id := l.PersonID.String()
		teams[i][id] = struct{}{}
		if l.IsPrimary {
			primary[i][id] = struct{}{}
		}
	}
	for _, s := range primary {
		if len(s) > 0 {
			primaries = append(primaries, s)
		}
	}
	return teams, primaries
}
