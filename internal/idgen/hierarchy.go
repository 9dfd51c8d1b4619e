package idgen

import (
	"fmt"
	"strconv"
	"strings"
)

// ChildID returns the hierarchical id for the n-th child of parent,
// e.g. ChildID("fg-abc", 2) == "fg-abc.2".
func ChildID(parent string, n int) string {
	return fmt.Sprintf("%s.%d", parent, n)
}

// ParentID returns the immediate hierarchical parent encoded in id, or ""
// when id is top-level.
func ParentID(id string) string {
	idx := strings.LastIndexByte(id, '.')
	if idx <= 0 {
		return ""
	}
	if _, err := strconv.Atoi(id[idx+1:]); err != nil {
		return ""
	}
	return id[:idx]
}

// Ancestors returns the hierarchical ancestors of id, nearest first.
func Ancestors(id string) []string {
	var out []string
	for p := ParentID(id); p != ""; p = ParentID(p) {
		out = append(out, p)
	}
	return out
}

// Depth returns the number of hierarchical levels below the root id.
func Depth(id string) int {
	return len(Ancestors(id))
}
