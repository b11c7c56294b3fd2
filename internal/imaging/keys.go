package imaging

import (
	"fmt"
	"path"
	"strings"
)

// Tier suffixes. The three keys of one logical image share a base identifier
// and are derivable from one another by suffix substitution.
const (
	suffixThumb = "_thumb.jpg"
	suffixMed   = "_med.jpg"
	suffixHigh  = "_high.jpg"
)

// TierKeys holds the storage keys of the three variants of one image.
type TierKeys struct {
	Thumbnail string
	Medium    string
	High      string
}

func newTierKeys(prefix, baseID string) TierKeys {
	base := path.Join(prefix, baseID)
	return TierKeys{
		Thumbnail: base + suffixThumb,
		Medium:    base + suffixMed,
		High:      base + suffixHigh,
	}
}

// KeysFromMedium derives the full key trio from a medium-tier storage key.
func KeysFromMedium(mediumKey string) (TierKeys, error) {
	if !strings.HasSuffix(mediumKey, suffixMed) {
		return TierKeys{}, fmt.Errorf("not a medium storage key: %q", mediumKey)
	}
	base := strings.TrimSuffix(mediumKey, suffixMed)
	return TierKeys{
		Thumbnail: base + suffixThumb,
		Medium:    mediumKey,
		High:      base + suffixHigh,
	}, nil
}
