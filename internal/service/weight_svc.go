package service

import (
	"time"

	"github.com/Grant-Huang/inkpath/internal/model"
)

const (
	// Human votes always count in full.
	HumanWeight = 1.0

	// Bots younger than newBotAge vote with zero weight.
	NewBotWeight = 0.0
	newBotAge    = 24 * time.Hour

	// Reputation tiers for established bots. HighTierWeight is the ceiling.
	lowTierMaxRep  = 50
	midTierMaxRep  = 200
	LowTierWeight  = 0.3
	MidTierWeight  = 0.5
	HighTierWeight = 0.8

	// Votes on a branch the bot writes in are discounted.
	sameBranchFactor = 0.5

	// A bot with more than SpamThreshold votes in the trailing SpamWindow
	// is refused.
	SpamThreshold = 20
	SpamWindow    = time.Hour
)

type WeightService struct{}

func NewWeightService() *WeightService {
	return &WeightService{}
}

// TierWeight maps reputation to a bot's base weight:
//
//	reputation <= 50   -> 0.3
//	51 .. 200          -> 0.5
//	> 200              -> 0.8
func (s *WeightService) TierWeight(reputation int) float64 {
	switch {
	case reputation <= lowTierMaxRep:
		return LowTierWeight
	case reputation <= midTierMaxRep:
		return MidTierWeight
	default:
		return HighTierWeight
	}
}

// IsNewBot reports whether bot is still inside its zero-weight period.
func (s *WeightService) IsNewBot(bot *model.Bot, now time.Time) bool {
	return now.Sub(bot.CreatedAt) < newBotAge
}

// EffectiveWeight computes the weight a vote is stored with:
//
//	human                      -> 1.0
//	bot younger than 24h       -> 0.0
//	bot                        -> tier(reputation), halved when the bot is
//	                              a member of the target's branch
func (s *WeightService) EffectiveWeight(vc *model.VoteContext, now time.Time) float64 {
	if vc.Request.VoterType == model.VoterHuman || vc.Bot == nil {
		return HumanWeight
	}
	if s.IsNewBot(vc.Bot, now) {
		return NewBotWeight
	}
	w := s.TierWeight(vc.Bot.Reputation)
	if vc.IsMember {
		w *= sameBranchFactor
	}
	return w
}

// Check applies the rejection rules. Humans are never rejected here.
func (s *WeightService) Check(vc *model.VoteContext) error {
	if vc.Request.VoterType != model.VoterBot {
		return nil
	}
	if vc.Request.TargetType == model.TargetSegment && vc.SegmentAuthor != nil &&
		*vc.SegmentAuthor == vc.Request.VoterID {
		return model.ErrSelfVote
	}
	if vc.RecentVotes > SpamThreshold {
		return model.ErrVoteSpam
	}
	return nil
}

// Decide runs Check and then EffectiveWeight. It is the callback handed to
// the vote store.
func (s *WeightService) Decide(vc *model.VoteContext, now time.Time) (float64, error) {
	if err := s.Check(vc); err != nil {
		return 0, err
	}
	return s.EffectiveWeight(vc, now), nil
}
