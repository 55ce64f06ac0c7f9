package service

import (
	"github.com/tokengate/tokengate/internal/domain"
)

// TierResolver maps a set of role identifiers to the single highest-ranked
// tier. Pure lookup against the static table built at startup; the only
// failure is ErrNoEligibleTier.
type TierResolver struct {
	byRole map[string]domain.Tier
}

func NewTierResolver(tiers []domain.Tier, roleTable map[string]string) *TierResolver {
	byName := make(map[string]domain.Tier, len(tiers))
	for _, tier := range tiers {
		byName[tier.Name] = tier
	}
	byRole := make(map[string]domain.Tier, len(roleTable))
	for roleID, tierName := range roleTable {
		if tier, ok := byName[tierName]; ok {
			byRole[roleID] = tier
		}
	}
	return &TierResolver{byRole: byRole}
}

func (r *TierResolver) Resolve(roleIDs []string) (domain.Tier, error) {
	var best domain.Tier
	found := false
	for _, roleID := range roleIDs {
		tier, ok := r.byRole[roleID]
		if !ok {
			continue
		}
		if !found || tier.Rank > best.Rank {
			best = tier
			found = true
		}
	}
	if !found {
		return domain.Tier{}, domain.ErrNoEligibleTier
	}
	return best, nil
}
