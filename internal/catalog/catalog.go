package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"advtrack/internal/objectives"
)

var ErrDuplicateID = errors.New("duplicate objective id")

// Catalog is the ruleset's fixed objective definitions.
type Catalog struct {
	Defs   []objectives.Definition
	ByID   map[string]int
	Digest string
}

type objectiveDef struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Hidden   hideMode       `json:"hidden,omitempty"`
	Half     *bool          `json:"half,omitempty"`
	Goal     bool           `json:"goal,omitempty"`
	Criteria []criterionDef `json:"criteria,omitempty"`
}

// hideMode accepts either a JSON boolean or a string.
type hideMode string

func (h *hideMode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*h = ""
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*h = hideMode(strconv.FormatBool(v))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Unreadable specifiers hide nothing.
		*h = ""
		return nil
	}
	*h = hideMode(s)
	return nil
}

// criterionDef accepts "id" or {"id":..., "name":...}.
type criterionDef objectives.Criterion

func (c *criterionDef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*c = criterionDef{ID: id}
		return nil
	}
	var obj objectives.Criterion
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*c = criterionDef(obj)
	return nil
}

// Load reads <configDir>/objectives.json.
func Load(configDir string) (*Catalog, error) {
	return LoadFile(filepath.Join(configDir, "objectives.json"))
}

func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var defs []objectiveDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, err
	}
	c := &Catalog{
		ByID:   make(map[string]int, len(defs)),
		Digest: sha256Hex(raw),
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("empty id")
		}
		if _, dup := c.ByID[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}
		def := objectives.Definition{
			ID:     d.ID,
			Name:   d.Name,
			Hidden: string(d.Hidden),
			Half:   d.Half,
			Goal:   d.Goal,
		}
		for _, cr := range d.Criteria {
			def.Criteria = append(def.Criteria, objectives.Criterion(cr))
		}
		c.ByID[d.ID] = len(c.Defs)
		c.Defs = append(c.Defs, def)
	}
	return c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
