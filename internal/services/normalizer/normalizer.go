package normalizer

import (
	"strings"
	"sync"

	"ppemonitor/internal/models"
)

// synonyms maps every backend label variant we have seen onto its canonical
// class. Keys are lowercase; the canonical label itself always maps to
// itself so normalization is idempotent. Labels of the legacy Spanish
// backend are included alongside the English model labels.
var synonyms = map[string]models.CanonicalClass{
	"helmet":         models.ClassHelmet,
	"helmets":        models.ClassHelmet,
	"hardhat":        models.ClassHelmet,
	"hard_hat":       models.ClassHelmet,
	"casco":          models.ClassHelmet,
	"cascos":         models.ClassHelmet,
	"goggles":        models.ClassGoggles,
	"goggle":         models.ClassGoggles,
	"glasses":        models.ClassGoggles,
	"safety_glasses": models.ClassGoggles,
	"lentes":         models.ClassGoggles,
	"gloves":         models.ClassGloves,
	"glove":          models.ClassGloves,
	"guante":         models.ClassGloves,
	"guantes":        models.ClassGloves,
	"boots":          models.ClassBoots,
	"boot":           models.ClassBoots,
	"safety_boots":   models.ClassBoots,
	"bota":           models.ClassBoots,
	"botas":          models.ClassBoots,
	"vest":           models.ClassVest,
	"vests":          models.ClassVest,
	"safety_vest":    models.ClassVest,
	"chaleco":        models.ClassVest,
	"chalecos":       models.ClassVest,
	"shirt":          models.ClassShirt,
	"shirts":         models.ClassShirt,
	"denim_shirt":    models.ClassShirt,
	"camisa":         models.ClassShirt,
	"camisa_jean":    models.ClassShirt,
	"pants":          models.ClassPants,
	"trousers":       models.ClassPants,
	"jeans":          models.ClassPants,
	"denim_pants":    models.ClassPants,
	"pantalon":       models.ClassPants,
	"pantalones":     models.ClassPants,
	"mask":           models.ClassMask,
	"masks":          models.ClassMask,
	"face_mask":      models.ClassMask,
	"respirator":     models.ClassMask,
	"barbijo":        models.ClassMask,
	"tapabocas":      models.ClassMask,
}

// Normalizer maps backend-reported labels onto the canonical equipment
// vocabulary. The canonical set is injected at construction; labels whose
// canonical class is outside that set are treated as unrecognized rather
// than coerced.
type Normalizer struct {
	table map[string]models.CanonicalClass

	mu           sync.Mutex
	unrecognized map[string]int
}

// New builds a Normalizer restricted to the given canonical classes.
func New(classes []models.CanonicalClass) *Normalizer {
	allowed := make(map[models.CanonicalClass]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}

	table := make(map[string]models.CanonicalClass)
	for label, class := range synonyms {
		if allowed[class] {
			table[label] = class
		}
	}

	return &Normalizer{
		table:        table,
		unrecognized: make(map[string]int),
	}
}

// Normalize maps label onto its canonical class. Matching is
// case-insensitive. Unrecognized labels are counted for diagnostics and
// never assigned to a class.
func (n *Normalizer) Normalize(label string) (models.CanonicalClass, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	if class, ok := n.table[key]; ok {
		return class, true
	}

	n.mu.Lock()
	n.unrecognized[key]++
	n.mu.Unlock()
	return "", false
}

// UnrecognizedCounts returns a copy of the per-label counters for labels
// that failed to normalize.
func (n *Normalizer) UnrecognizedCounts() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make(map[string]int, len(n.unrecognized))
	for k, v := range n.unrecognized {
		out[k] = v
	}
	return out
}
