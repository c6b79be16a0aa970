package metadata

import (
	"encoding/json"
	"fmt"
)

// DocumentVersion is the envelope version written by this package
const DocumentVersion = 1

// Crash handler keys the pipeline reads or synthesizes
const (
	KeyExe       = "exe"
	KeySignal    = "signal"
	KeyPID       = "pid"
	KeyRestarted = "restarted"
	KeyAppName   = "appname"
)

// State is the pipeline's own bookkeeping
type State struct {
	PickedUp bool `json:"PickedUp" yaml:"PickedUp"`
}

// Document is the canonical per-crash metadata document
type Document struct {
	Version      int               `json:"version" yaml:"version"`
	State        State             `json:"dumptruck" yaml:"dumptruck"`
	CrashHandler map[string]string `json:"crash-handler" yaml:"crash-handler"`
	Tags         map[string]string `json:"crash-handler-tags" yaml:"crash-handler-tags"`
	ExtraData    map[string]string `json:"crash-handler-extra-data" yaml:"crash-handler-extra-data"`
	GPU          map[string]string `json:"crash-handler-gpu" yaml:"crash-handler-gpu"`
	Journal      map[string]string `json:"journal" yaml:"journal"`
}

// NewDocument returns an empty document
func NewDocument() *Document {
	return &Document{
		Version:      DocumentVersion,
		CrashHandler: map[string]string{},
		Tags:         map[string]string{},
		ExtraData:    map[string]string{},
		GPU:          map[string]string{},
		Journal:      map[string]string{},
	}
}

// PickedUp reports whether a handler already processed the crash
func (d *Document) PickedUp() bool {
	return d != nil && d.State.PickedUp
}

// Complete reports whether the crash-handler section carries data
func (d *Document) Complete() bool {
	return d != nil && len(d.CrashHandler) > 0
}

// Clone returns a deep copy
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{
		Version:      d.Version,
		State:        d.State,
		CrashHandler: cloneMap(d.CrashHandler),
		Tags:         cloneMap(d.Tags),
		ExtraData:    cloneMap(d.ExtraData),
		GPU:          cloneMap(d.GPU),
		Journal:      cloneMap(d.Journal),
	}
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Marshal encodes the document as indented JSON
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// UnmarshalDocument decodes a stored document, filling absent sections
func UnmarshalDocument(data []byte) (*Document, error) {
	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	for _, section := range []*map[string]string{&doc.CrashHandler, &doc.Tags, &doc.ExtraData, &doc.GPU, &doc.Journal} {
		if *section == nil {
			*section = map[string]string{}
		}
	}
	return doc, nil
}
