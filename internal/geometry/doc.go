// Package geometry maps pointer positions on the circular playfield to cell
// indices.
//
// Responsibilities: topology validation, the polar transform from a
// reference frame, section expansion for finger-sized contacts, and the
// absolute/relative ring interpretation modes.
// Key types: Topology, Mode (Absolute, Relative), Mapper, Frame.
//
// The playfield has 60 angular sections folded into two mirrored halves of
// 30, and 4 logical rings, giving 240 cells. Cells 0-119 are the half with
// sections 0-29, cells 120-239 the half with sections 30-59.
package geometry
