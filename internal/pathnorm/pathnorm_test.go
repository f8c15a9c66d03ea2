package pathnorm

import (
	"reflect"
	"testing"
)

func TestStripGlobToBasePath(t *testing.T) {
	const home = "/Users/ash_default_agent"
	cases := []struct {
		name    string
		pattern string
		want    string
	}{
		{"concrete path unchanged", "/Users/alice/projects/app.go", "/Users/alice/projects/app.go"},
		{"wildcard ancestor", "/Users/alice/projects/**", "/Users/alice/projects"},
		{"wildcard mid-segment", "/Users/alice/*/build/**", "/Users/alice"},
		{"home expansion", "~/projects/**", home + "/projects"},
		{"bare home", "~", home},
		{"trailing slash collapse", "/Users/alice/projects/", "/Users/alice/projects"},
		{"root", "/", "/"},
		{"bracket class", "/var/log/[ab]*.log", "/var/log"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StripGlobToBasePath(tc.pattern, home)
			if got != tc.want {
				t.Fatalf("StripGlobToBasePath(%q) = %q, want %q", tc.pattern, got, tc.want)
			}
		})
	}
}

func TestGetAncestorsNeedingTraversal(t *testing.T) {
	got := GetAncestorsNeedingTraversal("/Users/alice/projects")
	want := []string{"/Users/alice"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ancestors = %v, want %v", got, want)
	}
}

func TestGetAncestorsNeedingTraversalDeep(t *testing.T) {
	got := GetAncestorsNeedingTraversal("/Users/alice/projects/app/src")
	want := []string{"/Users/alice/projects/app", "/Users/alice/projects", "/Users/alice"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ancestors = %v, want %v", got, want)
	}
}

func TestGetAncestorsNeedingTraversalWorldTraversable(t *testing.T) {
	got := GetAncestorsNeedingTraversal("/tmp/scratch")
	want := []string{}
	if len(got) != 0 {
		t.Fatalf("ancestors = %v, want %v", got, want)
	}
}
