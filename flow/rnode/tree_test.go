package rnode_test

import (
	"testing"

	"github.com/stepflow-go/stepflow/flow/rnode"
)

func TestPathResolution(t *testing.T) {
	tree := rnode.NewTree()

	n := tree.At("a/b/c")
	if got := n.Path(); got != "a/b/c" {
		t.Errorf("expected path a/b/c, got %q", got)
	}

	// Same path resolves to the same node.
	if tree.At("a/b/c") != n {
		t.Error("repeated resolution returned a different node")
	}
	// Empty segments are skipped.
	if tree.At("a//b/c/") != n {
		t.Error("empty segments changed resolution")
	}
	// Relative resolution composes.
	if tree.At("a").At("b/c") != n {
		t.Error("relative resolution returned a different node")
	}

	if got := tree.At("a").Children(); len(got) != 1 || got[0] != "b" {
		t.Errorf("expected children [b], got %v", got)
	}
}

func TestSetGetAndEqualityGate(t *testing.T) {
	tree := rnode.NewTree()
	n := tree.At("x")

	if !n.Set(1) {
		t.Error("first set should report a change")
	}
	if got := n.Get(); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}

	// JSON-equal values are a no-op.
	if n.Set(1) {
		t.Error("unchanged set should report no change")
	}
	if !n.Set(2) {
		t.Error("changed set should report a change")
	}

	// Structural equality, not identity.
	m := tree.At("y")
	m.Set(map[string]interface{}{"k": []interface{}{1, 2}})
	if m.Set(map[string]interface{}{"k": []interface{}{1, 2}}) {
		t.Error("structurally equal map should not count as a change")
	}
	if !m.Set(map[string]interface{}{"k": []interface{}{2, 1}}) {
		t.Error("different map should count as a change")
	}
}

func TestWatchers(t *testing.T) {
	tree := rnode.NewTree()
	n := tree.At("watched")

	var fired [][2]interface{}
	off := n.Watch(func(old, next interface{}) {
		fired = append(fired, [2]interface{}{old, next})
	})

	n.Set("v1")
	n.Set("v1") // suppressed
	n.Set("v2")

	if len(fired) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(fired))
	}
	if fired[0][0] != nil || fired[0][1] != "v1" {
		t.Errorf("first notification expected (nil, v1), got %v", fired[0])
	}
	if fired[1][0] != "v1" || fired[1][1] != "v2" {
		t.Errorf("second notification expected (v1, v2), got %v", fired[1])
	}

	off()
	off() // double unsubscribe is safe
	n.Set("v3")
	if len(fired) != 2 {
		t.Error("unsubscribed watcher still fired")
	}
}

func TestWatcherCanWriteOtherNodes(t *testing.T) {
	tree := rnode.NewTree()
	src := tree.At("src")
	dst := tree.At("dst")

	src.Watch(func(old, next interface{}) {
		// Watchers run outside the tree lock, so writing another node
		// from inside one must not deadlock.
		dst.Set(next)
	})

	src.Set(42)
	if got := dst.Get(); got != 42 {
		t.Errorf("expected propagated 42, got %v", got)
	}
}

func TestEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{"nils", nil, nil, true},
		{"equal ints", 3, 3, true},
		{"int and float marshal alike", 3, 3.0, true},
		{"different values", 3, 4, false},
		{"nil vs value", nil, 0, false},
		{"equal slices", []int{1, 2}, []int{1, 2}, true},
		{"unmarshalable never equal", make(chan int), make(chan int), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rnode.Equal(tc.a, tc.b); got != tc.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestExportImport(t *testing.T) {
	tree := rnode.NewTree()
	tree.At("run1/steps/a").Set(1)
	tree.At("run1/steps/b").Set("two")
	tree.At("run2/x").Set(true)

	t.Run("tree export covers all values", func(t *testing.T) {
		got := tree.Export()
		if len(got) != 3 {
			t.Fatalf("expected 3 exported values, got %v", got)
		}
		if got["run1/steps/a"] != 1 || got["run1/steps/b"] != "two" || got["run2/x"] != true {
			t.Errorf("unexpected export: %v", got)
		}
	})

	t.Run("subtree export is relative", func(t *testing.T) {
		got := tree.At("run1").Export()
		if len(got) != 2 {
			t.Fatalf("expected 2 exported values, got %v", got)
		}
		if got["steps/a"] != 1 || got["steps/b"] != "two" {
			t.Errorf("unexpected subtree export: %v", got)
		}
	})

	t.Run("import round trips through a fresh tree", func(t *testing.T) {
		fresh := rnode.NewTree()
		fresh.Import(tree.Export())
		if got := fresh.At("run1/steps/b").Get(); got != "two" {
			t.Errorf("expected two, got %v", got)
		}
	})

	t.Run("subtree import fires watchers", func(t *testing.T) {
		fresh := rnode.NewTree()
		fired := 0
		fresh.At("target/steps/a").Watch(func(old, next interface{}) { fired++ })
		fresh.At("target").Import(tree.At("run1").Export())
		if fired != 1 {
			t.Errorf("expected watcher to fire once, got %d", fired)
		}
	})
}
