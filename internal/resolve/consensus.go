package resolve

import (
	"strings"

	"github.com/blockclass/marketview/internal/domain"
)

const (
	basisCategories = "heuristic: category tags"
	basisHashing    = "heuristic: hashing algorithm only"
	basisNone       = "no category or hashing data"
)

// InferConsensus guesses the consensus family from category tags and the
// hashing algorithm. Hybrid chains can be mislabelled; the result is a
// teaching aid, never a classification to rely on.
func InferConsensus(categories []string, hashing *string) domain.Consensus {
	text := strings.ToLower(strings.Join(categories, " "))

	switch {
	case strings.Contains(text, "proof of stake"):
		return domain.Consensus{Label: domain.ConsensusPoS, Basis: basisCategories}
	case strings.Contains(text, "proof of work"):
		return domain.Consensus{Label: domain.ConsensusPoW, Basis: basisCategories}
	case hashing != nil && strings.TrimSpace(*hashing) != "":
		return domain.Consensus{Label: domain.ConsensusPoW, Indicative: true, Basis: basisHashing}
	default:
		return domain.Consensus{Label: domain.ConsensusUnknown, Basis: basisNone}
	}
}
