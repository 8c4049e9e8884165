package models

import (
	"strings"

	"github.com/paulmach/orb"
)

// Address is one point of the national address registry (BAN), already
// reprojected to the working metric frame (EPSG:2154).
type Address struct {
	ID        string
	CodeInsee string
	Point     orb.Point
	// ExistingLinks holds parcel ids asserted by the source as pre-existing
	// references, in source order. Empty when the source carries none.
	ExistingLinks []string
}

// ParseExistingLink splits the raw existing_link column into parcel ids.
// The column is a semicolon-separated list; empty and "null" values
// (case-insensitive) mean no link.
func ParseExistingLink(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return nil
	}

	var links []string
	for _, part := range strings.Split(trimmed, ";") {
		pid := strings.TrimSpace(part)
		if pid == "" {
			continue
		}
		links = append(links, pid)
	}
	return links
}
