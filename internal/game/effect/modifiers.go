package effect

// ToHitPenalty returns the net attack-roll modifier contributed by the
// effects in the given map. Only effects registered with AffectsToHit
// contribute; their stored values are summed as-is (penalties are negative).
func (r *Registry) ToHitPenalty(effects map[string]int) int {
	total := 0
	for id, value := range effects {
		if def, ok := r.defs[id]; ok && def.AffectsToHit {
			total += value
		}
	}
	return total
}

// ClearRoundScoped removes from effects every entry whose definition is
// marked ClearAtRoundEnd, returning the removed effect IDs. Unregistered
// effect names are left untouched; downstream logic owns their lifecycle.
func (r *Registry) ClearRoundScoped(effects map[string]int) []string {
	var cleared []string
	for id := range effects {
		if def, ok := r.defs[id]; ok && def.ClearAtRoundEnd {
			delete(effects, id)
			cleared = append(cleared, id)
		}
	}
	return cleared
}
