package rcluster

import (
	"sort"
	"strings"
)

// HashSlots is the number of hash slots in a redis cluster.
const HashSlots = 16384

// Slot returns the hash slot for the key.
func Slot(key string) int {
	if start := strings.Index(key, "{"); start >= 0 {
		if end := strings.Index(key[start+1:], "}"); end > 0 { // if end == 0, then it's {}, so we ignore it
			end += start + 1
			key = key[start+1 : end]
		}
	}
	return int(crc16(key) & (HashSlots - 1))
}

// SplitBySlot takes a list of keys and returns a list of list of keys,
// grouped by identical cluster slot, in ascending slot order. For example:
//
//	bySlot := SplitBySlot("k1", "k2", "k3")
//	for _, keys := range bySlot {
//	  // keys is a list of keys that belong to the same slot
//	}
func SplitBySlot(keys ...string) [][]string {
	bySlot := make(map[int][]string)
	slots := make([]int, 0, len(keys))
	for _, k := range keys {
		slot := Slot(k)
		if _, ok := bySlot[slot]; !ok {
			slots = append(slots, slot)
		}
		bySlot[slot] = append(bySlot[slot], k)
	}
	sort.Ints(slots)

	groups := make([][]string, 0, len(slots))
	for _, slot := range slots {
		groups = append(groups, bySlot[slot])
	}
	return groups
}
