package schedule

// Conflict pairs two overlapping blocks of different modules that route the
// same phone number. Higher is the block whose module wins.
type Conflict struct {
	Higher Block `json:"higher"`
	Lower  Block `json:"lower"`
}

// DetectConflicts compares every pair of blocks once. Blocks without a phone
// number and blocks of the same module never conflict. On equal priority
// the block listed first wins.
func DetectConflicts(blocks []Block) []Conflict {
	var out []Conflict
	for i := 0; i < len(blocks); i++ {
		a := blocks[i]
		if a.PhoneNumber == "" {
			continue
		}
		for j := i + 1; j < len(blocks); j++ {
			b := blocks[j]
			if b.ModuleID == a.ModuleID || b.PhoneNumber != a.PhoneNumber || !a.Overlaps(b) {
				continue
			}
			if b.Priority < a.Priority {
				out = append(out, Conflict{Higher: b, Lower: a})
			} else {
				out = append(out, Conflict{Higher: a, Lower: b})
			}
		}
	}
	return out
}
