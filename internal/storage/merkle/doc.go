// Package merkle implements the integrity tree over a SystemState.
//
// Leaf hashes are H(0x00 || key || value) and internal hashes are
// H(0x01 || left || right), with leaves in sorted key order. Nodes are
// stored in an index-addressed arena, so building and proving never
// recurse. Any change to the state requires a full rebuild.
package merkle
