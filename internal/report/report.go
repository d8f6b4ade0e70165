package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// Lifecycle status values. The pipeline owns every transition after creation.
const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// Keys of the flat document form that are not pipeline fields.
const (
	KeyID            = "id"
	KeyUID           = "uid"
	KeyName          = "name"
	KeyStatus        = "status"
	KeyTimestamp     = "timestamp"
	KeyExpectedValue = "expectedValue"
	KeyFullName      = "fullName"
)

// reserved lists the document keys the pipeline may not overwrite through a
// field merge. Status is absent on purpose: the pipeline sets it.
var reserved = map[string]bool{
	KeyID:            true,
	KeyUID:           true,
	KeyName:          true,
	KeyTimestamp:     true,
	KeyExpectedValue: true,
	KeyFullName:      true,
}

// IsReserved reports whether key names a creation-time property.
func IsReserved(key string) bool {
	return reserved[key]
}

// Fields holds the stage result sub-documents attached by the pipeline.
// Values are JSON-shaped: map[string]any, []any, string, float64, bool, nil.
type Fields map[string]any

// Report is one submitted appraisal analysis job and its accumulated results.
type Report struct {
	ID            string
	UID           string
	Name          string
	Status        string
	Timestamp     time.Time
	ExpectedValue int64
	FullName      string
	Fields        Fields
}

// Has reports whether the pipeline field key is present and not null.
func (r Report) Has(key string) bool {
	v, ok := r.Fields[key]
	return ok && v != nil
}

// MarshalJSON encodes the flat document form:
// creation properties and pipeline fields side by side.
func (r Report) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Fields)+7)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc[KeyID] = r.ID
	doc[KeyUID] = r.UID
	doc[KeyName] = r.Name
	doc[KeyStatus] = r.Status
	doc[KeyTimestamp] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	doc[KeyExpectedValue] = r.ExpectedValue
	doc[KeyFullName] = r.FullName
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the flat document form.
func (r *Report) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var out Report
	strs := map[string]*string{
		KeyID:       &out.ID,
		KeyUID:      &out.UID,
		KeyName:     &out.Name,
		KeyStatus:   &out.Status,
		KeyFullName: &out.FullName,
	}
	for key, dst := range strs {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		delete(doc, key)
	}

	if raw, ok := doc[KeyExpectedValue]; ok {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("decoding %s: %w", KeyExpectedValue, err)
		}
		out.ExpectedValue = int64(f)
		delete(doc, KeyExpectedValue)
	}

	if raw, ok := doc[KeyTimestamp]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decoding %s: %w", KeyTimestamp, err)
		}
		if s != "" {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", KeyTimestamp, err)
			}
			out.Timestamp = t
		}
		delete(doc, KeyTimestamp)
	}

	if len(doc) > 0 {
		out.Fields = make(Fields, len(doc))
		for key, raw := range doc {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decoding field %s: %w", key, err)
			}
			out.Fields[key] = v
		}
	}

	*r = out
	return nil
}

// Merge applies patch onto dst with document-store merge semantics: nested
// objects merge key by key, every other value replaces what was there.
func Merge(dst, patch map[string]any) {
	for k, pv := range patch {
		pm, pIsMap := pv.(map[string]any)
		dm, dIsMap := dst[k].(map[string]any)
		if pIsMap && dIsMap {
			Merge(dm, pm)
			continue
		}
		if pIsMap {
			cp := make(map[string]any, len(pm))
			Merge(cp, pm)
			dst[k] = cp
			continue
		}
		dst[k] = pv
	}
}
