package viseme

import "strings"

// Slot indices used by the avatar. Slot 0 is reserved and never offered for
// training; slots 5..9 are free for custom shapes.
const (
	SlotNone    = 0
	SlotSilence = 1
	SlotCH      = 2
	SlotOU      = 3
	SlotAA      = 4
)

var slotNames = [...]string{
	SlotNone:    "None",
	SlotSilence: "Silence",
	SlotCH:      "CH",
	SlotOU:      "OU",
	SlotAA:      "AA",
}

// SlotName returns the display label of a slot.
func SlotName(slot int) string {
	if slot >= 0 && slot < len(slotNames) {
		return slotNames[slot]
	}
	if ValidSlot(slot) {
		return "Custom"
	}
	return "Invalid"
}

// ParseSlot maps a label (case-insensitive) to its slot index.
func ParseSlot(name string) (int, bool) {
	for i, n := range slotNames {
		if strings.EqualFold(n, name) {
			return i, true
		}
	}
	return NoSlot, false
}
