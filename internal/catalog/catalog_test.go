package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"advtrack/internal/objectives"
	"advtrack/internal/peer"
)

const sample = `[
  {"id": "story/root", "name": "Minecraft", "half": false},
  {"id": "adventure/adventuring_time", "hidden": "relaxed",
   "criteria": ["minecraft:plains", {"id": "minecraft:desert", "name": "Desert"}]},
  {"id": "nether/all_effects", "hidden": true, "criteria": ["speed"]},
  {"id": "stat/deaths", "goal": true, "hidden": 7}
]`

func TestParse_Definitions(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Defs) != 4 || c.Digest == "" {
		t.Fatalf("defs=%d digest=%q", len(c.Defs), c.Digest)
	}
	at := c.Defs[c.ByID["adventure/adventuring_time"]]
	if at.Hidden != "relaxed" || len(at.Criteria) != 2 || at.Criteria[1].Name != "Desert" {
		t.Fatalf("adventuring_time: %+v", at)
	}
	if h := c.Defs[c.ByID["nether/all_effects"]].Hidden; h != "true" {
		t.Fatalf("bool hidden: got %q", h)
	}
	if h := c.Defs[c.ByID["stat/deaths"]].Hidden; h != "" {
		t.Fatalf("malformed hidden should be empty, got %q", h)
	}

	objs, err := objectives.FromDefinitions(c.Defs, peer.View{})
	if err != nil {
		t.Fatalf("FromDefinitions: %v", err)
	}
	adv := objs[1].(*objectives.Advancement)
	if !adv.HiddenWhenRelaxed || adv.HiddenWhenCompact {
		t.Fatalf("hide flags: relaxed=%v compact=%v", adv.HiddenWhenRelaxed, adv.HiddenWhenCompact)
	}
	if objs[0].(*objectives.Advancement).UsedInHalfPercent {
		t.Fatalf("half=false ignored")
	}
}

func TestParse_RejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte(`[{"id":"a"},{"id":"a"}]`))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("got %v want ErrDuplicateID", err)
	}
	if _, err := Parse([]byte(`[{"name":"no id"}]`)); err == nil {
		t.Fatalf("expected empty id error")
	}
}

func TestLoad_FromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "objectives.json"), []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := c.ByID["story/root"]; !ok {
		t.Fatalf("missing story/root")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoad_ShippedCatalog(t *testing.T) {
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod")
		}
		dir = parent
	}
	c, err := Load(filepath.Join(dir, "configs"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	objs, err := objectives.FromDefinitions(c.Defs, peer.View{})
	if err != nil {
		t.Fatalf("FromDefinitions: %v", err)
	}
	withCriteria := 0
	for _, o := range objs {
		if adv, ok := o.(*objectives.Advancement); ok && adv.HasCriteria() {
			withCriteria++
		}
	}
	if withCriteria == 0 {
		t.Fatalf("shipped catalog has no criteria-bearing advancements")
	}
}
