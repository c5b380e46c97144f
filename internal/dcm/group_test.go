package dcm

import (
	"math/rand"
	"testing"
)

func makeInstances() []*Instance {
	level0 := &Instance{
		Flavor:                    FlavorVolume,
		PyramidIndex:              0,
		OpticalPaths:              []string{"0"},
		FocalPlanes:               []float64{0},
		PhotometricInterpretation: "YBR_FULL_422",
		TransferSyntaxUID:         JPEGBaseline8Bit,
		FocusMethod:               "AUTO",
	}
	level1 := &Instance{
		Flavor:                    FlavorVolume,
		PyramidIndex:              1,
		OpticalPaths:              []string{"0"},
		FocalPlanes:               []float64{0},
		PhotometricInterpretation: "YBR_FULL_422",
		TransferSyntaxUID:         JPEGBaseline8Bit,
		FocusMethod:               "AUTO",
	}
	label := &Instance{
		Flavor:                    FlavorLabel,
		OpticalPaths:              []string{"0"},
		FocalPlanes:               []float64{0},
		PhotometricInterpretation: "RGB",
		TransferSyntaxUID:         JPEGBaseline8Bit,
		FocusMethod:               "AUTO",
	}
	multiPlane := &Instance{
		Flavor:                    FlavorVolume,
		PyramidIndex:              0,
		OpticalPaths:              []string{"0"},
		FocalPlanes:               []float64{0, 1.5},
		PhotometricInterpretation: "YBR_FULL_422",
		TransferSyntaxUID:         JPEGBaseline8Bit,
		FocusMethod:               "AUTO",
		ExtendedDepthOfField:      true,
		FocalPlaneCount:           2,
		FocalPlaneDistance:        1.5,
	}
	return []*Instance{level0, level1, label, multiPlane}
}

func TestGroupInstancesSplitsOnKey(t *testing.T) {
	instances := makeInstances()
	groups := GroupInstances(instances)
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	// The two plain pyramid levels share a key.
	if len(groups[0]) != 2 {
		t.Errorf("first group has %d instances, want 2", len(groups[0]))
	}
	if groups[1][0].Flavor != FlavorLabel {
		t.Errorf("second group flavor = %s", groups[1][0].Flavor)
	}
	if !groups[2][0].ExtendedDepthOfField {
		t.Error("third group should be the extended depth of field instance")
	}
}

func TestGroupMembershipPermutationInvariant(t *testing.T) {
	instances := makeInstances()
	want := groupSets(GroupInstances(instances))

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]*Instance{}, instances...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got := groupSets(GroupInstances(shuffled))
		if len(got) != len(want) {
			t.Fatalf("trial %d: %d groups, want %d", trial, len(got), len(want))
		}
		for key, members := range want {
			if got[key] != members {
				t.Errorf("trial %d: group %v members = %d, want %d", trial, key, got[key], members)
			}
		}
	}
}

func groupSets(groups [][]*Instance) map[GroupKey]int {
	out := make(map[GroupKey]int)
	for _, g := range groups {
		out[g[0].Key()] = len(g)
	}
	return out
}

func TestGroupOrderIsFirstSeen(t *testing.T) {
	instances := makeInstances()
	groups := GroupInstances(instances)
	if groups[0][0].PyramidIndex != 0 || groups[0][0].Flavor != FlavorVolume {
		t.Error("first group should start with the first instance seen")
	}

	reversed := []*Instance{instances[3], instances[2], instances[1], instances[0]}
	groups = GroupInstances(reversed)
	if !groups[0][0].ExtendedDepthOfField {
		t.Error("group order should follow first-seen key order")
	}
}

func TestListImageDataOrderAndDedup(t *testing.T) {
	srcA := &fakeSource{width: 512, height: 512, tileW: 256, tileH: 256}
	srcB := &fakeSource{width: 512, height: 512, tileW: 256, tileH: 256}

	a := &Instance{
		Source:       srcA,
		OpticalPaths: []string{"path-1", "path-2"},
		FocalPlanes:  []float64{0, 2},
	}
	b := &Instance{
		Source:       srcB,
		OpticalPaths: []string{"path-1", "path-3"},
		FocalPlanes:  []float64{0},
	}

	pairs := ListImageData([]*Instance{a, b})
	want := []struct {
		path  string
		plane float64
	}{
		{"path-1", 0},
		{"path-1", 2},
		{"path-2", 0},
		{"path-2", 2},
		{"path-3", 0},
	}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i, w := range want {
		if pairs[i].OpticalPath != w.path || pairs[i].FocalPlane != w.plane {
			t.Errorf("pair %d = (%s, %v), want (%s, %v)",
				i, pairs[i].OpticalPath, pairs[i].FocalPlane, w.path, w.plane)
		}
	}

	// First instance wins for the shared (path-1, 0) pair.
	if pairs[0].Source != srcA {
		t.Error("shared pair should keep the first instance's source")
	}
	// path-3 comes only from the second instance.
	if pairs[4].Source != srcB {
		t.Error("path-3 should come from the second instance")
	}
}
