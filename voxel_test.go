package voxelstl

import (
	"context"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestMergeStrips(t *testing.T) {
	tests := []struct {
		name string
		in   []image.Point
		want []Strip
	}{
		{"empty", nil, nil},
		{"single", []image.Point{{3, 4}}, []Strip{{3, 4, 1}}},
		{"adjacent", []image.Point{{0, 0}, {1, 0}}, []Strip{{0, 0, 2}}},
		{"gap", []image.Point{{0, 0}, {2, 0}}, []Strip{{0, 0, 1}, {2, 0, 1}}},
		{"row change", []image.Point{{1, 0}, {2, 1}, {0, 0}, {3, 1}}, []Strip{{0, 0, 2}, {2, 1, 2}}},
		{"wrap is not contiguous", []image.Point{{3, 0}, {0, 1}}, []Strip{{3, 0, 1}, {0, 1, 1}}},
		{"duplicates", []image.Point{{0, 0}, {0, 0}, {1, 0}}, []Strip{{0, 0, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeStrips(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("strip %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMergeStripsCoversInput(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	in := map[image.Point]bool{}
	var positions []image.Point
	for range 300 {
		p := image.Pt(rng.Intn(30), rng.Intn(20))
		if !in[p] {
			in[p] = true
			positions = append(positions, p)
		}
	}
	rng.Shuffle(len(positions), func(i, j int) { positions[i], positions[j] = positions[j], positions[i] })

	covered := map[image.Point]bool{}
	for _, s := range MergeStrips(positions) {
		for _, p := range s.Tiles() {
			if covered[p] {
				t.Fatalf("tile %v covered twice", p)
			}
			if !in[p] {
				t.Fatalf("tile %v not in input", p)
			}
			covered[p] = true
		}
	}
	if len(covered) != len(in) {
		t.Errorf("covered %d tiles, input has %d", len(covered), len(in))
	}
}

func TestBoxTrianglesOutward(t *testing.T) {
	b := Box{Min: r3.Vec{X: 1, Y: 2, Z: 3}, Max: r3.Vec{X: 2, Y: 4, Z: 3.5}}
	tris := b.Triangles()
	if len(tris) != 12 {
		t.Fatalf("expected 12 triangles, got %d", len(tris))
	}
	center := r3.Scale(0.5, r3.Add(b.Min, b.Max))
	area := 0.0
	for i, tri := range tris {
		if math.Abs(r3.Norm(tri.Normal)-1) > 1e-9 {
			t.Errorf("triangle %d: normal %+v is not unit", i, tri.Normal)
		}
		c := r3.Scale(1.0/3, r3.Add(r3.Add(tri.Vertices[0], tri.Vertices[1]), tri.Vertices[2]))
		if r3.Dot(r3.Sub(c, center), tri.Normal) <= 0 {
			t.Errorf("triangle %d points inward", i)
		}
		area += tri.Area()
	}
	want := 2 * (1*2 + 1*0.5 + 2*0.5)
	if math.Abs(area-want) > 1e-9 {
		t.Errorf("surface area %g, want %g", area, want)
	}
}

func twoBandMap() *ColorMap {
	return &ColorMap{
		Order: []string{"#ff0000", "#0000ff"},
		Positions: map[string][]image.Point{
			"#ff0000": {{0, 0}, {1, 0}, {0, 1}},
			"#0000ff": {{1, 1}},
		},
	}
}

func TestBuildModel(t *testing.T) {
	geom := Geometry{NozzleSize: 0.4, LayerHeight: 0.2, ColorLayers: 2}
	m, err := BuildModel(context.Background(), twoBandMap(), 2, geom)
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	if m.Bands != 2 || len(m.Boxes) != 3 {
		t.Fatalf("bands %d boxes %d", m.Bands, len(m.Boxes))
	}
	const eps = 1e-9
	near := func(a, b r3.Vec) bool { return r3.Norm(r3.Sub(a, b)) < eps }

	top := m.Boxes[0] // row 0 run of two tiles, red band 0
	if !near(top.Min, r3.Vec{X: 0, Y: 0.4, Z: 0}) || !near(top.Max, r3.Vec{X: 0.8, Y: 0.8, Z: 0.4}) {
		t.Errorf("top strip box %+v", top)
	}
	blue := m.Boxes[2]
	if blue.Band != 1 || !near(blue.Min, r3.Vec{X: 0.4, Y: 0, Z: 0.4}) || !near(blue.Max, r3.Vec{X: 0.8, Y: 0.4, Z: 0.8}) {
		t.Errorf("blue box %+v", blue)
	}
	if blue.Color.Hex() != "#0000ff" {
		t.Errorf("blue color %s", blue.Color.Hex())
	}
	if !near(m.Size, r3.Vec{X: 0.8, Y: 0.8, Z: 0.8}) {
		t.Errorf("size %+v", m.Size)
	}
	if got := len(m.Triangles()); got != 36 {
		t.Errorf("triangles %d", got)
	}
	if got := len(m.BandTriangles(1)); got != 12 {
		t.Errorf("band 1 triangles %d", got)
	}
	if bb := m.BandBoxes(); bb[0] != 2 || bb[1] != 1 {
		t.Errorf("band boxes %v", bb)
	}

	st := m.Stats()
	if st.Tiles != 4 || st.Boxes != 3 || st.Triangles != 36 {
		t.Errorf("stats %+v", st)
	}
	if math.Abs(float64(st.Boxes)*st.AvgRun-float64(st.Tiles)) > eps {
		t.Errorf("boxes*avgRun = %g, tiles %d", float64(st.Boxes)*st.AvgRun, st.Tiles)
	}
}

func TestBuildModelSolid(t *testing.T) {
	geom := Geometry{NozzleSize: 1, LayerHeight: 0.5, ColorLayers: 1, Solid: true}
	m, err := BuildModel(context.Background(), twoBandMap(), 2, geom)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range m.Boxes {
		if b.Min.Z != 0 {
			t.Errorf("box %+v does not start on the bed", b)
		}
		if want := float64(b.Band+1) * 0.5; b.Max.Z != want {
			t.Errorf("box top %g, want %g", b.Max.Z, want)
		}
	}
}

func TestBuildModelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildModel(ctx, twoBandMap(), 2, Geometry{NozzleSize: 1, LayerHeight: 1, ColorLayers: 1})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestColorMapColor(t *testing.T) {
	m := twoBandMap()
	want, _ := colorful.Hex("#0000ff")
	if m.Color(1) != want {
		t.Errorf("Color(1) = %v", m.Color(1))
	}
	if m.Band("#0000ff") != 1 || m.Band("#123456") != -1 {
		t.Error("Band lookup")
	}
	if m.Tiles() != 4 {
		t.Errorf("Tiles = %d", m.Tiles())
	}
}
