package geometry

// foldSection converts between the stored and unfolded order of the second
// half. Sections 30-59 are stored mirrored across the vertical axis; the
// transform is its own inverse.
func foldSection(section int) int {
	if section >= HalfSections {
		return HalfSections + Sections - 1 - section
	}
	return section
}

// ExpandSection returns the sections covered by a contact of the given
// radius centred on section. The first element is always section itself.
// Neighbours are taken in unfolded order and folded back, so a contact near
// the seam between halves spills into the other half correctly.
func ExpandSection(section, radius int) []int {
	out := make([]int, 0, 2*radius-1)
	out = append(out, section)
	seen := map[int]bool{section: true}

	unfolded := Sections + foldSection(section)
	for k := 1; k < radius; k++ {
		for _, s := range [2]int{(unfolded + k) % Sections, (unfolded - k) % Sections} {
			s = foldSection(s)
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// CellIndex packs a section and logical ring into a cell index. Each half
// occupies a contiguous block of 120 cells, ring-major.
func CellIndex(section, logicalRing int) int {
	idx := logicalRing*HalfSections + section%HalfSections
	if section >= HalfSections {
		idx += CellCount / 2
	}
	return idx
}
