package tabs

import (
	"reflect"
	"testing"
)

func withTabs(current string, paths ...string) *Manager {
	m := New()
	m.SetAll(paths)
	if current != "" {
		m.Open(current)
	}
	return m
}

func TestOpen(t *testing.T) {
	m := New()
	m.Open("/a.rs")
	m.Open("/b.rs")
	m.Open("/a.rs")

	if got := m.Tabs(); !reflect.DeepEqual(got, []string{"/a.rs", "/b.rs"}) {
		t.Errorf("tabs = %v", got)
	}
	if cur, _ := m.Current(); cur != "/a.rs" {
		t.Errorf("current = %q, want /a.rs", cur)
	}
	m.Open("/a.rs")
	if m.CurrentIndex() != 0 || m.Len() != 2 {
		t.Error("re-opening the current tab must be a no-op")
	}
}

func TestSetAllDedup(t *testing.T) {
	m := New()
	m.SetAll([]string{"/a.rs", "/b.rs", "/a.rs"})
	if got := m.Tabs(); !reflect.DeepEqual(got, []string{"/a.rs", "/b.rs"}) {
		t.Errorf("tabs = %v", got)
	}
	if m.CurrentIndex() != -1 {
		t.Errorf("current index = %d, want -1", m.CurrentIndex())
	}
}

func TestSetAllKeepsCurrent(t *testing.T) {
	m := withTabs("/b.rs", "/a.rs", "/b.rs")
	m.SetAll([]string{"/c.rs", "/b.rs"})
	if m.CurrentIndex() != 1 {
		t.Errorf("current index = %d, want 1", m.CurrentIndex())
	}
	m.SetAll([]string{"/c.rs"})
	if _, ok := m.Current(); ok {
		t.Error("current should be cleared when its path is dropped")
	}
}

func TestCloseAdjacency(t *testing.T) {
	tests := []struct {
		name     string
		tabs     []string
		current  string
		close    string
		wantCur  string
		wantTabs []string
	}{
		{"next tab", []string{"/a.rs", "/b.rs", "/c.rs"}, "/b.rs", "/b.rs", "/c.rs", []string{"/a.rs", "/c.rs"}},
		{"previous when last", []string{"/a.rs", "/c.rs"}, "/c.rs", "/c.rs", "/a.rs", []string{"/a.rs"}},
		{"only tab", []string{"/a.rs"}, "/a.rs", "/a.rs", "", []string{}},
		{"non current", []string{"/a.rs", "/b.rs", "/c.rs"}, "/c.rs", "/a.rs", "/c.rs", []string{"/b.rs", "/c.rs"}},
		{"absent", []string{"/a.rs"}, "/a.rs", "/z.rs", "/a.rs", []string{"/a.rs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := withTabs(tt.current, tt.tabs...)
			if got := m.Close(tt.close); got != tt.wantCur {
				t.Errorf("Close returned %q, want %q", got, tt.wantCur)
			}
			if cur, _ := m.Current(); cur != tt.wantCur {
				t.Errorf("current = %q, want %q", cur, tt.wantCur)
			}
			if got := m.Tabs(); !reflect.DeepEqual(got, tt.wantTabs) {
				t.Errorf("tabs = %v, want %v", got, tt.wantTabs)
			}
		})
	}
}

func TestRenameInPlace(t *testing.T) {
	m := withTabs("/src/a.rs", "/x.rs", "/src/a.rs", "/y.rs")
	if !m.Rename("/src/a.rs", "/lib/a.rs") {
		t.Fatal("Rename returned false")
	}
	want := []string{"/x.rs", "/lib/a.rs", "/y.rs"}
	if got := m.Tabs(); !reflect.DeepEqual(got, want) {
		t.Errorf("tabs = %v, want %v", got, want)
	}
	if cur, _ := m.Current(); cur != "/lib/a.rs" || m.CurrentIndex() != 1 {
		t.Errorf("current = %q at %d", cur, m.CurrentIndex())
	}
}

func TestRenameDropsDuplicate(t *testing.T) {
	m := withTabs("/c.rs", "/a.rs", "/b.rs", "/c.rs")
	m.Rename("/a.rs", "/b.rs")
	want := []string{"/b.rs", "/c.rs"}
	if got := m.Tabs(); !reflect.DeepEqual(got, want) {
		t.Errorf("tabs = %v, want %v", got, want)
	}
	if m.CurrentIndex() != 1 {
		t.Errorf("current index = %d, want 1", m.CurrentIndex())
	}
}

func TestClear(t *testing.T) {
	m := withTabs("/a.rs", "/a.rs")
	m.Clear()
	if m.Len() != 0 || m.CurrentIndex() != -1 {
		t.Error("Clear should reset everything")
	}
}
