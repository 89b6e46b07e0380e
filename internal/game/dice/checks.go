package dice

// Defense and check constants for the d20 combat rules.
const (
	// BaseDefense is the defense value before modifiers.
	BaseDefense = 10
	// DefendBonus is added to defense while a combatant holds a
	// defensive stance.
	DefendBonus = 5
)

// AttributeModifier computes the modifier for an attribute score:
// floor((value-10)/2) with true floor division, so a score of 1 yields
// -5, not -4.
func AttributeModifier(value int) int {
	diff := value - 10
	if diff < 0 && diff%2 != 0 {
		return diff/2 - 1
	}
	return diff / 2
}

// RollDie rolls a single die and returns a uniform integer in [1, sides].
//
// Precondition: sides >= 2; src must be non-nil.
func RollDie(src Source, sides int) int {
	return src.Intn(sides) + 1
}

// RollInitiative rolls turn-order initiative: d20 + DEX modifier.
func RollInitiative(src Source, dexModifier int) int {
	return RollDie(src, 20) + dexModifier
}

// HitResult is the outcome of a to-hit check.
type HitResult struct {
	// Hit is true when the attack lands.
	Hit bool
	// Critical is true only on a natural 20.
	Critical bool
	// Raw is the unmodified d20 result.
	Raw int
}

// RollToHit resolves an attack roll against a defender.
//
// A natural 1 always misses and a natural 20 always hits critically,
// regardless of modifiers. Otherwise the attack hits when
// raw + attackModifier >= 10 + defenseModifier (+5 while defending).
func RollToHit(src Source, attackModifier, defenseModifier int, defending bool) HitResult {
	raw := RollDie(src, 20)

	if raw == 1 {
		return HitResult{Hit: false, Critical: false, Raw: raw}
	}
	if raw == 20 {
		return HitResult{Hit: true, Critical: true, Raw: raw}
	}

	defense := BaseDefense + defenseModifier
	if defending {
		defense += DefendBonus
	}
	return HitResult{Hit: raw+attackModifier >= defense, Raw: raw}
}

// CalculateDamage rolls attack damage: 1d6 + STR modifier, or 2d6 + STR
// modifier on a critical hit.
//
// Postcondition: Returns >= 1.
func CalculateDamage(src Source, strModifier int, critical bool) int {
	damage := RollDie(src, 6)
	if critical {
		damage += RollDie(src, 6)
	}
	damage += strModifier
	if damage < 1 {
		return 1
	}
	return damage
}

// DamageVerb returns the ROM-style damage verb for an amount of damage.
// Brackets are exclusive upper bounds checked in ascending order.
func DamageVerb(amount int) string {
	switch {
	case amount == 0:
		return "miss"
	case amount < 5:
		return "scratch"
	case amount < 15:
		return "hit"
	case amount < 20:
		return "wound"
	case amount < 30:
		return "maul"
	case amount < 100:
		return "MASSACRE"
	default:
		return "ANNIHILATE"
	}
}
