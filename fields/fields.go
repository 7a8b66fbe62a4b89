// Package fields provides failure field definitions and extraction
package fields

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lteinsight/emmkpi/pkg/model"
)

// FieldType represents the type of a field
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeBool
	TypeFloat
	TypeTime
)

// FieldDef defines an extractable failure field
type FieldDef struct {
	Name        string                         // Field name (e.g., "emm.cause")
	Description string                         // Human-readable description
	Type        FieldType                      // Value type
	Extractor   func(*model.FailureRecord) any // Field value extractor
}

// Registry holds all registered fields
type Registry struct {
	fields map[string]*FieldDef
}

// NewRegistry creates a new field registry with standard fields
func NewRegistry() *Registry {
	r := &Registry{
		fields: make(map[string]*FieldDef),
	}
	r.registerStandardFields()
	return r
}

// Get returns a field definition by name
func (r *Registry) Get(name string) *FieldDef {
	return r.fields[name]
}

// List returns all registered field names
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	return names
}

// ListByPrefix returns field names matching a prefix
func (r *Registry) ListByPrefix(prefix string) []string {
	var names []string
	for name := range r.fields {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names
}

// Extract extracts a field value from a failure record
func (r *Registry) Extract(name string, f *model.FailureRecord) (any, bool) {
	field := r.fields[name]
	if field == nil {
		return nil, false
	}
	value := field.Extractor(f)
	return value, value != nil
}

// ExtractString extracts a field value as string
func (r *Registry) ExtractString(name string, f *model.FailureRecord) string {
	value, ok := r.Extract(name, f)
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', 6, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Register adds a new field to the registry
func (r *Registry) Register(field *FieldDef) {
	r.fields[field.Name] = field
}

// registerStandardFields registers all standard failure fields
func (r *Registry) registerStandardFields() {
	// Failure identity
	r.Register(&FieldDef{
		Name:        "failure.id",
		Description: "Failure identifier",
		Type:        TypeString,
		Extractor:   func(f *model.FailureRecord) any { return f.ID },
	})
	r.Register(&FieldDef{
		Name:        "failure.instance",
		Description: "Procedure instance identifier",
		Type:        TypeString,
		Extractor:   func(f *model.FailureRecord) any { return f.InstanceID },
	})
	r.Register(&FieldDef{
		Name:        "run.id",
		Description: "Analysis run identifier",
		Type:        TypeString,
		Extractor:   func(f *model.FailureRecord) any { return f.RunID },
	})

	// Classification
	r.Register(&FieldDef{
		Name:        "procedure",
		Description: "EMM procedure",
		Type:        TypeString,
		Extractor:   func(f *model.FailureRecord) any { return f.Procedure },
	})
	r.Register(&FieldDef{
		Name:        "category",
		Description: "Failure category",
		Type:        TypeString,
		Extractor:   func(f *model.FailureRecord) any { return f.Category },
	})
	r.Register(&FieldDef{
		Name:        "kpi",
		Description: "Retainability KPI counter name",
		Type:        TypeString,
		Extractor:   func(f *model.FailureRecord) any { return f.KPI },
	})
	r.Register(&FieldDef{
		Name:        "detail",
		Description: "Human-readable failure detail",
		Type:        TypeString,
		Extractor: func(f *model.FailureRecord) any {
			if f.Detail == "" {
				return nil
			}
			return f.Detail
		},
	})

	// Timing
	r.Register(&FieldDef{
		Name:        "frame.time",
		Description: "Abort timestamp",
		Type:        TypeTime,
		Extractor:   func(f *model.FailureRecord) any { return f.Timestamp().UTC().Format("2006-01-02T15:04:05.000000Z07:00") },
	})
	r.Register(&FieldDef{
		Name:        "frame.time_epoch",
		Description: "Abort timestamp (Unix epoch)",
		Type:        TypeFloat,
		Extractor:   func(f *model.FailureRecord) any { return float64(f.TimestampNS) / 1e9 },
	})
	r.Register(&FieldDef{
		Name:        "frame.number",
		Description: "Triggering message index",
		Type:        TypeInt,
		Extractor: func(f *model.FailureRecord) any {
			if f.MsgIndex == 0 {
				return nil
			}
			return f.MsgIndex
		},
	})

	// Triggering message
	r.Register(&FieldDef{
		Name:        "emm.message",
		Description: "Triggering message name",
		Type:        TypeString,
		Extractor: func(f *model.FailureRecord) any {
			if f.Message == "" {
				return nil
			}
			return f.Message
		},
	})
	r.Register(&FieldDef{
		Name:        "emm.cause",
		Description: "Carried EMM cause code",
		Type:        TypeInt,
		Extractor: func(f *model.FailureRecord) any {
			if f.CauseCode == 0 {
				return nil
			}
			return f.CauseCode
		},
	})
	r.Register(&FieldDef{
		Name:        "emm.cause_name",
		Description: "Carried EMM cause name",
		Type:        TypeString,
		Extractor: func(f *model.FailureRecord) any {
			if f.CauseText == "" {
				return nil
			}
			return f.CauseText
		},
	})
}

// GetFieldInfo returns a formatted string describing a field
func (r *Registry) GetFieldInfo(name string) string {
	field := r.fields[name]
	if field == nil {
		return ""
	}
	return fmt.Sprintf("%s\t%s\t%s", field.Name, getTypeName(field.Type), field.Description)
}

func getTypeName(t FieldType) string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	case TypeTime:
		return "time"
	default:
		return "unknown"
	}
}
