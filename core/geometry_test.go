package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/mesh-simulator/model"
)

func TestDistance(t *testing.T) {
	got := Distance(model.Position{X: 0, Y: 0}, model.Position{X: 3, Y: 4})
	if math.Abs(got-5) > 1e-9 {
		t.Fatalf("Distance = %f, want 5", got)
	}
}

func TestVec2Ops(t *testing.T) {
	a := Vec2{X: 1, Y: 2}
	b := Vec2{X: 4, Y: 6}
	if d := a.Sub(b); d != (Vec2{X: -3, Y: -4}) {
		t.Fatalf("Sub = %#v", d)
	}
	if n := a.Sub(b).Norm(); math.Abs(n-5) > 1e-9 {
		t.Fatalf("Norm = %f, want 5", n)
	}
	if dot := a.Dot(b); dot != 16 {
		t.Fatalf("Dot = %f, want 16", dot)
	}
}

func TestWithinRange(t *testing.T) {
	origin := model.Position{}
	cases := []struct {
		name string
		p    model.Position
		r    int
		want bool
	}{
		{"inside", model.Position{X: 3, Y: 4}, 6, true},
		{"on boundary", model.Position{X: 3, Y: 4}, 5, true},
		{"outside", model.Position{X: 3, Y: 4}, 4, false},
		{"zero range same point", origin, 0, true},
		{"negative range", origin, -1, false},
	}
	for _, tc := range cases {
		if got := withinRange(origin, tc.p, tc.r); got != tc.want {
			t.Errorf("%s: withinRange = %v, want %v", tc.name, got, tc.want)
		}
	}
}
