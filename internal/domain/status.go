package domain

import (
	"encoding/json"
	"fmt"
)

// Status is the processing stage of a document. The zero value is invalid.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusUploading
	StatusProcessing
	StatusChunking
	StatusEmbedding
	StatusReady
	StatusError
)

type statusInfo struct {
	name  string
	label string
	next  Status // successor on the non-error path; StatusUnknown when terminal
}

var statusTable = [...]statusInfo{
	StatusUnknown:    {name: "unknown", label: "Unknown"},
	StatusUploading:  {name: "uploading", label: "Uploading", next: StatusProcessing},
	StatusProcessing: {name: "processing", label: "Processing", next: StatusChunking},
	StatusChunking:   {name: "chunking", label: "Chunking text", next: StatusEmbedding},
	StatusEmbedding:  {name: "embedding", label: "Indexing", next: StatusReady},
	StatusReady:      {name: "ready", label: "Ready"},
	StatusError:      {name: "error", label: "Failed"},
}

// AllStatuses lists every valid status in pipeline order, error last.
func AllStatuses() []Status {
	return []Status{StatusUploading, StatusProcessing, StatusChunking, StatusEmbedding, StatusReady, StatusError}
}

// ParseStatus maps a wire name to a Status.
func ParseStatus(s string) (Status, error) {
	for st := StatusUploading; st <= StatusError; st++ {
		if statusTable[st].name == s {
			return st, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", s)
}

func (s Status) valid() bool { return s > StatusUnknown && s <= StatusError }

func (s Status) String() string {
	if int(s) >= len(statusTable) {
		return statusTable[StatusUnknown].name
	}
	return statusTable[s].name
}

// Label is the human-readable name shown by the CLI and dashboard.
func (s Status) Label() string {
	if int(s) >= len(statusTable) {
		return statusTable[StatusUnknown].label
	}
	return statusTable[s].label
}

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool { return s == StatusReady || s == StatusError }

// Next returns the successor on the non-error path, or StatusUnknown.
func (s Status) Next() Status {
	if !s.valid() {
		return StatusUnknown
	}
	return statusTable[s].next
}

// CanTransition reports whether to is reachable from s in one step.
// The non-error path is strictly linear and error is reachable from any
// non-terminal stage.
func (s Status) CanTransition(to Status) bool {
	if !s.valid() || !to.valid() || s.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	return statusTable[s].next == to
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("cannot marshal invalid status %d", s)
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	st, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
