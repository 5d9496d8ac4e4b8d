package twitch

// BenefitType classifies a drop reward by how the platform distributes it.
type BenefitType string

const (
	BenefitUnknown           BenefitType = "UNKNOWN"
	BenefitBadge             BenefitType = "BADGE"
	BenefitEmote             BenefitType = "EMOTE"
	BenefitDirectEntitlement BenefitType = "DIRECT_ENTITLEMENT"
)

// IsBadgeOrEmote reports whether the reward is account cosmetic. Badge and
// emote campaigns are earnable without a linked game account.
func (t BenefitType) IsBadgeOrEmote() bool {
	return t == BenefitBadge || t == BenefitEmote
}

// BenefitEdge is the GQL payload shape of one entry in a drop's
// benefitEdges list.
type BenefitEdge struct {
	Benefit struct {
		ID               string `json:"id"`
		Name             string `json:"name"`
		DistributionType string `json:"distributionType"`
		ImageAssetURL    string `json:"imageAssetURL"`
	} `json:"benefit"`
}

// Benefit is a single reward granted by a completed drop.
type Benefit struct {
	ID       string
	Name     string
	Type     BenefitType
	ImageURL string
}

func newBenefit(edge BenefitEdge) Benefit {
	t := BenefitType(edge.Benefit.DistributionType)
	switch t {
	case BenefitUnknown, BenefitBadge, BenefitEmote, BenefitDirectEntitlement:
	default:
		t = BenefitUnknown
	}
	return Benefit{
		ID:       edge.Benefit.ID,
		Name:     edge.Benefit.Name,
		Type:     t,
		ImageURL: edge.Benefit.ImageAssetURL,
	}
}
