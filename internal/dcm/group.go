package dcm

import (
	"github.com/mrsinham/wsiforge/internal/source"
)

// GroupInstances partitions instances into the subsets that share one
// physical file. Instances with equal grouping keys merge; group order
// is the first-seen order of each distinct key, and order within a
// group follows input order.
func GroupInstances(instances []*Instance) [][]*Instance {
	var order []GroupKey
	byKey := make(map[GroupKey][]*Instance)
	for _, inst := range instances {
		key := inst.Key()
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], inst)
	}

	groups := make([][]*Instance, 0, len(order))
	for _, key := range order {
		groups = append(groups, byKey[key])
	}
	return groups
}

// ImageData is one (optical path, focal plane) pair of a file group and
// the source serving its tiles.
type ImageData struct {
	OpticalPath string
	FocalPlane  float64
	Source      source.TiledImageSource
}

// ListImageData produces the ordered (optical path, focal plane) pairs
// a group's frames are written in: optical paths in the order the first
// instance declares them, focal planes within each path. The first
// source registered for a pair wins; later instances contributing the
// same pair are interchangeable and not re-queried.
func ListImageData(group []*Instance) []ImageData {
	type pairKey struct {
		path  string
		plane float64
	}
	var out []ImageData
	seen := make(map[pairKey]bool)
	for _, inst := range group {
		for _, path := range inst.OpticalPaths {
			for _, plane := range inst.FocalPlanes {
				key := pairKey{path, plane}
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, ImageData{
					OpticalPath: path,
					FocalPlane:  plane,
					Source:      inst.Source,
				})
			}
		}
	}
	return out
}
