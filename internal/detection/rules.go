package detection

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ashita-ai/shinrai/internal/model"
	"github.com/ashita-ai/shinrai/internal/similarity"
)

// Thresholds used by the rules.
const (
	GhostAfter            = 90 * 24 * time.Hour
	OverdueAfter          = 30 * 24 * time.Hour
	SimilarityThreshold   = 0.76
	HighSimilarity        = 0.86
	MaxProposalsPerBucket = 50
	minClusterFunds       = 3
)

var (
	incompleteStatuses = []model.ProjectStatus{model.ProjectInProgress, model.ProjectDelayed, model.ProjectAtRisk}
	ghostStatuses      = []model.ProjectStatus{model.ProjectInProgress, model.ProjectPending}
	dollars            = message.NewPrinter(language.English)
)

func personName(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}

// RepeatDelays flags every incomplete funded project of a proposer who has
// more than two of them.
type RepeatDelays struct {
	src Source
}

func (d *RepeatDelays) Category() model.FlagCategory { return model.CategoryRepeatDelays }

func (d *RepeatDelays) Detect(ctx context.Context) ([]model.DetectionResult, error) {
	links, err := d.src.ListPersonProjectLinks(ctx)
	if err != nil {
		return nil, err
	}

	var results []model.DetectionResult
	for _, person := range groupByPerson(links) {
		if len(person) < 2 {
			continue
		}
		var incomplete []model.PersonProjectLink
		for _, l := range person {
			if l.FundingStatus == model.FundingFunded && slices.Contains(incompleteStatuses, l.Status) {
				incomplete = append(incomplete, l)
			}
		}
		n := len(incomplete)
		if n <= 2 {
			continue
		}

		severity := model.SeverityMedium
		if n > 4 {
			severity = model.SeverityHigh
		}
		ids := make([]string, n)
		titles := make([]string, n)
		for i, p := range incomplete {
			ids[i] = p.ProjectID.String()
			titles[i] = p.ProjectTitle
		}
		name := personName(person[0].PersonName)
		for _, p := range incomplete {
			results = append(results, model.DetectionResult{
				ProjectID:   p.ProjectID,
				Category:    model.CategoryRepeatDelays,
				Severity:    severity,
				Title:       fmt.Sprintf("Proposer has %d incomplete projects", n),
				Description: fmt.Sprintf("%s has %d funded projects that are incomplete or delayed. This may indicate capacity issues.", name, n),
				Metadata: map[string]any{
					"personId":        p.PersonID.String(),
					"personName":      person[0].PersonName,
					"incompleteCount": n,
					"projectIds":      ids,
					"projectTitles":   titles,
				},
			})
		}
	}
	return results, nil
}

// GhostProjects flags funded projects that have gone quiet.
type GhostProjects struct {
	src Source
	now func() time.Time
}

func (d *GhostProjects) Category() model.FlagCategory { return model.CategoryGhostProject }

func (d *GhostProjects) Detect(ctx context.Context) ([]model.DetectionResult, error) {
	now := d.now()
	stale, err := d.src.ListStaleProjects(ctx, ghostStatuses, now.Add(-GhostAfter))
	if err != nil {
		return nil, err
	}

	results := make([]model.DetectionResult, 0, len(stale))
	for _, p := range stale {
		days := daysBetween(p.UpdatedAt, now)
		severity := model.SeverityMedium
		switch {
		case days > 180:
			severity = model.SeverityCritical
		case days > 120:
			severity = model.SeverityHigh
		}
		amount := strconv.FormatFloat(p.FundingAmount, 'f', -1, 64)
		results = append(results, model.DetectionResult{
			ProjectID:   p.ProjectID,
			Category:    model.CategoryGhostProject,
			Severity:    severity,
			Title:       fmt.Sprintf("No updates for %d days", days),
			Description: fmt.Sprintf("Project \"%s\" has not been updated in %d days. Funded amount: $%s", p.Title, days, amount),
			Metadata: map[string]any{
				"daysSinceUpdate": days,
				"lastUpdate":      p.UpdatedAt.UTC().Format(time.RFC3339),
				"fundingAmount":   amount,
				"fundName":        p.FundName,
			},
		})
	}
	return results, nil
}

// OverdueMilestones flags unfinished milestones well past their due date.
type OverdueMilestones struct {
	src Source
	now func() time.Time
}

func (d *OverdueMilestones) Category() model.FlagCategory { return model.CategoryOverdueMilestone }

func (d *OverdueMilestones) Detect(ctx context.Context) ([]model.DetectionResult, error) {
	now := d.now()
	overdue, err := d.src.ListOverdueMilestones(ctx, now.Add(-OverdueAfter))
	if err != nil {
		return nil, err
	}

	results := make([]model.DetectionResult, 0, len(overdue))
	for _, m := range overdue {
		days := daysBetween(m.DueDate, now)
		severity := model.SeverityLow
		switch {
		case days > 90:
			severity = model.SeverityHigh
		case days > 60:
			severity = model.SeverityMedium
		}
		results = append(results, model.DetectionResult{
			ProjectID:   m.ProjectID,
			Category:    model.CategoryOverdueMilestone,
			Severity:    severity,
			Title:       fmt.Sprintf("Milestone \"%s\" is %d days overdue", m.MilestoneTitle, days),
			Description: fmt.Sprintf("Milestone was due on %s but remains incomplete.", m.DueDate.UTC().Format(time.DateOnly)),
			Metadata: map[string]any{
				"milestoneId":    m.MilestoneID.String(),
				"milestoneTitle": m.MilestoneTitle,
				"dueDate":        m.DueDate.UTC().Format(time.RFC3339),
				"daysOverdue":    days,
				"projectTitle":   m.ProjectTitle,
				"fundName":       m.FundName,
			},
		})
	}
	return results, nil
}

// FundingClusters flags every funded project of a proposer funded across
// three or more distinct funds.
type FundingClusters struct {
	src Source
}

func (d *FundingClusters) Category() model.FlagCategory { return model.CategoryFundingCluster }

type cluster struct {
	links []model.PersonProjectLink
	funds map[uuid.UUID]struct{}
	total float64
}

func (d *FundingClusters) Detect(ctx context.Context) ([]model.DetectionResult, error) {
	links, err := d.src.ListPersonProjectLinks(ctx)
	if err != nil {
		return nil, err
	}

	var clusters []cluster
	for _, person := range groupByPerson(links) {
		c := cluster{funds: make(map[uuid.UUID]struct{})}
		for _, l := range person {
			if l.FundingStatus != model.FundingFunded {
				continue
			}
			c.links = append(c.links, l)
			c.funds[l.FundID] = struct{}{}
			c.total += l.FundingAmount
		}
		if len(c.funds) >= minClusterFunds {
			clusters = append(clusters, c)
		}
	}
	slices.SortStableFunc(clusters, func(a, b cluster) int { return cmp.Compare(b.total, a.total) })

	var results []model.DetectionResult
	for _, c := range clusters {
		projects := slices.Clone(c.links)
		slices.SortStableFunc(projects, func(a, b model.PersonProjectLink) int { return cmp.Compare(b.FundNumber, a.FundNumber) })

		var fundNames []string
		for _, p := range projects {
			if !slices.Contains(fundNames, p.FundName) {
				fundNames = append(fundNames, p.FundName)
			}
		}
		fundCount := len(c.funds)
		severity := model.SeverityMedium
		if fundCount > 5 {
			severity = model.SeverityHigh
		}
		first := projects[0]
		for _, p := range projects {
			results = append(results, model.DetectionResult{
				ProjectID: p.ProjectID,
				Category:  model.CategoryFundingCluster,
				Severity:  severity,
				Title:     fmt.Sprintf("Part of %d-fund cluster (%s)", fundCount, personName(first.PersonName)),
				Description: dollars.Sprintf("This proposer has received funding in %d different funds, totaling $%d. Review for capacity and delivery patterns.",
					fundCount, int64(math.Round(c.total))),
				Metadata: map[string]any{
					"personId":     first.PersonID.String(),
					"personName":   first.PersonName,
					"fundCount":    fundCount,
					"totalFunding": c.total,
					"projectCount": len(projects),
					"funds":        fundNames,
				},
			})
		}
	}
	return results, nil
}

// SimilarProposals flags pairs of proposals in the same fund and category
// whose token sets overlap heavily. Each bucket is capped at the first
// MaxProposalsPerBucket proposals.
type SimilarProposals struct {
	src Source
}

func (d *SimilarProposals) Category() model.FlagCategory { return model.CategorySimilarProposal }

type bucketKey struct {
	fundID   uuid.UUID
	category string
}

func (d *SimilarProposals) Detect(ctx context.Context) ([]model.DetectionResult, error) {
	proposals, err := d.src.ListProposals(ctx)
	if err != nil {
		return nil, err
	}

	var order []bucketKey
	buckets := make(map[bucketKey][]model.Proposal)
	for _, p := range proposals {
		k := bucketKey{p.FundID, p.Category}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], p)
	}

	var results []model.DetectionResult
	for _, k := range order {
		candidates := buckets[k]
		if len(candidates) > MaxProposalsPerBucket {
			candidates = candidates[:MaxProposalsPerBucket]
		}
		tokens := make([]similarity.Set, len(candidates))
		for i, p := range candidates {
			tokens[i] = similarity.Tokenize(proposalText(p))
		}
		for i := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for j := i + 1; j < len(candidates); j++ {
				score := similarity.Jaccard(tokens[i], tokens[j])
				if score < SimilarityThreshold {
					continue
				}
				results = append(results,
					similarResult(candidates[i], candidates[j], score),
					similarResult(candidates[j], candidates[i], score),
				)
			}
		}
	}
	return results, nil
}

func similarResult(base, other model.Proposal, score float64) model.DetectionResult {
	severity := model.SeverityMedium
	if score > HighSimilarity {
		severity = model.SeverityHigh
	}
	return model.DetectionResult{
		ProjectID:   base.ProjectID,
		Category:    model.CategorySimilarProposal,
		Severity:    severity,
		Title:       "Similar proposal detected: " + other.Title,
		Description: fmt.Sprintf("Potentially similar proposals detected (%d%% overlap). Review for duplicate scope or reuse.", int(math.Round(score*100))),
		Metadata: map[string]any{
			"similarProjectId":    other.ProjectID.String(),
			"similarProjectTitle": other.Title,
			"similarityScore":     score,
		},
	}
}

func proposalText(p model.Proposal) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.Title, p.Description, p.Problem, p.Solution} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// groupByPerson splits links into per-person runs, preserving first-seen order.
func groupByPerson(links []model.PersonProjectLink) [][]model.PersonProjectLink {
	index := make(map[uuid.UUID]int)
	var groups [][]model.PersonProjectLink
	for _, l := range links {
		i, ok := index[l.PersonID]
		if !ok {
			i = len(groups)
			index[l.PersonID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], l)
	}
	return groups
}
