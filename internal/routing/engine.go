package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

// Directory resolves recipient profiles for an organization
type Directory interface {
	Resolve(ctx context.Context, organizationID string, roles []string) ([]model.RecipientProfile, error)
}

// Config holds escalation defaults
type Config struct {
	HighDelayMinutes      int
	CriticalDelayMinutes  int
	EscalationRecipientID string
}

// urgentOrder and routineOrder list channels in the order they are attempted
var (
	urgentOrder  = []model.Channel{model.ChannelVoice, model.ChannelSMS, model.ChannelChat, model.ChannelEmail}
	routineOrder = []model.Channel{model.ChannelEmail, model.ChannelChat, model.ChannelSMS, model.ChannelVoice}
)

// Engine maps crisis analyses to alert routes
type Engine struct {
	logger    *zap.Logger
	directory Directory
	cfg       Config
	now       func() time.Time
}

// NewEngine creates a routing engine
func NewEngine(logger *zap.Logger, directory Directory, cfg Config) *Engine {
	if cfg.HighDelayMinutes <= 0 {
		cfg.HighDelayMinutes = 15
	}
	if cfg.CriticalDelayMinutes <= 0 {
		cfg.CriticalDelayMinutes = 5
	}
	return &Engine{
		logger:    logger.Named("routing-engine"),
		directory: directory,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Route builds the ordered set of alert routes for an analysis
func (e *Engine) Route(ctx context.Context, analysis model.CrisisAnalysis, mentions []model.Mention, campaign model.CampaignContext) ([]model.AlertRoute, error) {
	recipients, err := e.directory.Resolve(ctx, campaign.OrganizationID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	priority := model.PriorityForSeverity(analysis.Severity)
	candidates := SelectCandidates(recipients, analysis, priority)
	message := BuildMessage(analysis, campaign, mentions, priority)
	now := e.now()

	routes := make([]model.AlertRoute, 0, len(candidates))
	for _, r := range candidates {
		inHours := InAvailabilityWindow(r.Availability, now)
		channels := SelectChannels(r, priority, inHours)
		if len(channels) == 0 {
			e.logger.Warn("Recipient has no eligible channel",
				zap.String("recipient_id", r.ID),
				zap.String("priority", string(priority)))
			continue
		}

		route := model.AlertRoute{
			Recipient: r,
			Channels:  channels,
			Message:   message,
			Priority:  priority,
			InHours:   inHours,
		}
		if priority.AtLeast(model.PriorityHigh) {
			route.EscalationPlan = e.escalationPlan(r, recipients, analysis, priority)
		}
		routes = append(routes, route)
	}

	sortRoutes(routes)

	e.logger.Info("Routing plan built",
		zap.Int("severity", analysis.Severity),
		zap.String("priority", string(priority)),
		zap.Int("candidates", len(candidates)),
		zap.Int("routes", len(routes)))

	return routes, nil
}

// SelectCandidates picks recipients whose expertise or role matches the analysis
func SelectCandidates(recipients []model.RecipientProfile, analysis model.CrisisAnalysis, priority model.Priority) []model.RecipientProfile {
	terms := make(map[string]bool, len(analysis.AffectedTopics)+1)
	for _, t := range analysis.AffectedTopics {
		terms[normalize(t)] = true
	}
	if analysis.ThreatType != "" {
		terms[normalize(analysis.ThreatType)] = true
	}

	urgent := priority.AtLeast(model.PriorityHigh)

	var out []model.RecipientProfile
	for _, r := range recipients {
		if matches(r, terms) || (urgent && normalize(r.Role) == RoleCampaignManager) {
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		for _, r := range recipients {
			if normalize(r.Role) == RoleCampaignManager {
				out = append(out, r)
			}
		}
	}
	return out
}

func matches(r model.RecipientProfile, terms map[string]bool) bool {
	if terms[normalize(r.Role)] {
		return true
	}
	for _, area := range r.ExpertiseAreas {
		if terms[normalize(area)] {
			return true
		}
	}
	return false
}

// SelectChannels returns the recipient's enabled channels able to carry the priority.
// Voice is excluded outside the availability window.
func SelectChannels(r model.RecipientProfile, priority model.Priority, inHours bool) []model.Channel {
	order := routineOrder
	if priority.AtLeast(model.PriorityHigh) {
		order = urgentOrder
	}

	var out []model.Channel
	for _, ch := range order {
		pref, ok := r.ChannelPreferences[ch]
		if !ok || !pref.Enabled {
			continue
		}
		if pref.MaxPriority.Rank() < priority.Rank() {
			continue
		}
		if r.Contact(ch) == "" {
			continue
		}
		if ch == model.ChannelVoice && !inHours {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (e *Engine) escalationPlan(r model.RecipientProfile, all []model.RecipientProfile, analysis model.CrisisAnalysis, priority model.Priority) *model.EscalationPlan {
	delay := e.cfg.HighDelayMinutes
	if priority == model.PriorityCritical {
		delay = e.cfg.CriticalDelayMinutes
	}

	target := r.ID
	if id := e.cfg.EscalationRecipientID; id != "" && id != r.ID {
		target = id
	} else if senior, ok := mostSenior(all, r.ID); ok {
		target = senior.ID
	}

	return &model.EscalationPlan{
		TargetRecipientID: target,
		DelayMinutes:      delay,
		Message: fmt.Sprintf("ESCALATION: %s alert for %s (%s) was not delivered on any channel. %s threat, severity %d/10. Please take over the response.",
			strings.ToUpper(string(priority)), r.Name, r.Role, analysis.ThreatType, analysis.Severity),
	}
}

// mostSenior returns the most senior recipient other than exclude, ties broken by id
func mostSenior(all []model.RecipientProfile, exclude string) (model.RecipientProfile, bool) {
	var best model.RecipientProfile
	found := false
	for _, other := range all {
		if other.ID == exclude {
			continue
		}
		if !found || Seniority(other.Role) < Seniority(best.Role) ||
			(Seniority(other.Role) == Seniority(best.Role) && other.ID < best.ID) {
			best, found = other, true
		}
	}
	return best, found
}

// sortRoutes orders in-hours recipients first, then by response score, seniority and id
func sortRoutes(routes []model.AlertRoute) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if a.InHours != b.InHours {
			return a.InHours
		}
		if sa, sb := a.Recipient.AvgScore(), b.Recipient.AvgScore(); sa != sb {
			return sa > sb
		}
		if ra, rb := Seniority(a.Recipient.Role), Seniority(b.Recipient.Role); ra != rb {
			return ra < rb
		}
		return a.Recipient.ID < b.Recipient.ID
	})
}
