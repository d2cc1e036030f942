package workspace

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/fruitsalade/explorer/internal/models"
)

func TestPaths(t *testing.T) {
	if got := Root("demo"); got != "/projects/demo/" {
		t.Errorf("Root = %q", got)
	}
	if got := MetaPath("demo"); got != "/projects/demo/.workspace/metadata.json" {
		t.Errorf("MetaPath = %q", got)
	}
	if got := ProtectedPath("demo"); got != "/projects/demo/src/" {
		t.Errorf("ProtectedPath = %q", got)
	}
}

func TestAddAndLatest(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"one", "two"} {
		if err := r.Add(n); err != nil {
			t.Fatalf("Add(%q): %v", n, err)
		}
	}
	if err := r.Add("one"); !errors.Is(err, models.ErrAlreadyExists) {
		t.Errorf("duplicate Add = %v", err)
	}
	if err := r.Add(" bad"); !errors.Is(err, models.ErrInvalidName) {
		t.Errorf("invalid Add = %v", err)
	}
	if latest, _ := r.Latest(); latest != "two" {
		t.Errorf("Latest = %q", latest)
	}
}

func TestRemoveAndRename(t *testing.T) {
	r := NewRegistry()
	_ = r.Add("a")
	_ = r.Add("b")
	_ = r.SetCurrent("a")

	if err := r.Rename("a", "b"); !errors.Is(err, models.ErrAlreadyExists) {
		t.Errorf("Rename onto existing = %v", err)
	}
	if err := r.Rename("a", "c"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if cur, _ := r.Current(); cur != "c" {
		t.Errorf("current = %q, want c", cur)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"c", "b"}) {
		t.Errorf("names = %v", got)
	}

	if err := r.Remove("c"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Current(); ok {
		t.Error("removing the current workspace should clear it")
	}
	if err := r.Remove("c"); !errors.Is(err, models.ErrWorkspaceNotFound) {
		t.Errorf("second Remove = %v", err)
	}
	if err := r.SetCurrent("zzz"); !errors.Is(err, models.ErrWorkspaceNotFound) {
		t.Errorf("SetCurrent unknown = %v", err)
	}
}

func TestJSONFormat(t *testing.T) {
	r := NewRegistry()
	_ = r.Add("demo")
	_ = r.Add("other project")
	_ = r.SetCurrent("demo")

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"allNames":["demo","other project"],"currentName":"demo"}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}

	empty, _ := json.Marshal(NewRegistry())
	if string(empty) != `{"allNames":[],"currentName":null}` {
		t.Errorf("empty json = %s", empty)
	}
}

func TestUnmarshalDropsBadEntries(t *testing.T) {
	r := NewRegistry()
	in := `{"allNames":["a","a"," b","c"],"currentName":"gone"}`
	if err := json.Unmarshal([]byte(in), r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("names = %v", got)
	}
	if _, ok := r.Current(); ok {
		t.Error("unknown current name should be dropped")
	}
	if err := json.Unmarshal([]byte("{"), r); err == nil {
		t.Error("expected decode error")
	}
}
