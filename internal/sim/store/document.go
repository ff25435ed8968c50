package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Staticpast/ModeManager/internal/sim/model"
)

//go:embed userdoc.schema.json
var userDocSchema string

var compiledUserDoc = jsonschema.MustCompileString("userdoc.schema.json", userDocSchema)

// userDoc is the on-disk layout of playerdata/<uuid>.yml.
type userDoc struct {
	UUID           string          `yaml:"uuid"`
	CurrentMode    model.Mode      `yaml:"current-mode"`
	LastModeSwitch int64           `yaml:"last-mode-switch"`
	Survival       *model.Snapshot `yaml:"survival,omitempty"`
	Creative       *model.Snapshot `yaml:"creative,omitempty"`
	History        []historyDoc    `yaml:"history"`
}

type historyDoc struct {
	Mode      model.Mode `yaml:"mode"`
	Timestamp int64      `yaml:"timestamp"`
	Reason    string     `yaml:"reason"`
}

// Encode renders a user state as a YAML document.
func Encode(st *model.UserState) ([]byte, error) {
	doc := userDoc{
		UUID:           st.UserID.String(),
		CurrentMode:    st.CurrentMode(),
		LastModeSwitch: st.LastSwitch().Unix(),
		Survival:       st.Snapshot(model.Survival),
		Creative:       st.Snapshot(model.Creative),
	}
	for _, r := range st.History() {
		doc.History = append(doc.History, historyDoc{Mode: r.Mode, Timestamp: r.Timestamp.Unix(), Reason: r.Reason})
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses and validates a user document.
func Decode(b []byte) (*model.UserState, error) {
	if err := validate(b); err != nil {
		return nil, err
	}
	var doc userDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(doc.UUID)
	if err != nil {
		return nil, fmt.Errorf("uuid: %w", err)
	}
	hist := make([]model.Record, 0, len(doc.History))
	for _, h := range doc.History {
		hist = append(hist, model.Record{Mode: h.Mode, Timestamp: time.Unix(h.Timestamp, 0), Reason: h.Reason})
	}
	snaps := map[model.Mode]*model.Snapshot{}
	if doc.Survival != nil {
		snaps[model.Survival] = doc.Survival
	}
	if doc.Creative != nil {
		snaps[model.Creative] = doc.Creative
	}
	return model.RestoreUserState(id, doc.CurrentMode, time.Unix(doc.LastModeSwitch, 0), hist, snaps), nil
}

// validate checks the YAML document against the embedded JSON schema.
func validate(b []byte) error {
	var raw any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	j, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("document is not JSON-compatible: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(j))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return compiledUserDoc.Validate(v)
}
