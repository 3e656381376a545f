package formulas

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/liamcoop/formulas/expr"
)

// Level identifies which tier of the resolution policy a scope belongs to
type Level int

const (
	LevelGlobal Level = iota
	LevelReport
	LevelUseCase
)

func (l Level) String() string {
	switch l {
	case LevelGlobal:
		return "global"
	case LevelReport:
		return "report"
	case LevelUseCase:
		return "use_case"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Scope identifies a formula family: a field key at the global, report or
// use-case level. The zero value is not valid; use the constructors.
type Scope struct {
	level     Level
	reportID  string
	useCaseID string
	fieldKey  string
}

// GlobalScope is the system default for fieldKey
func GlobalScope(fieldKey string) Scope {
	return Scope{level: LevelGlobal, fieldKey: fieldKey}
}

// ReportScope applies to every use case of reportID
func ReportScope(reportID, fieldKey string) Scope {
	return Scope{level: LevelReport, reportID: reportID, fieldKey: fieldKey}
}

// UseCaseScope applies to one use case of reportID
func UseCaseScope(reportID, useCaseID, fieldKey string) Scope {
	return Scope{level: LevelUseCase, reportID: reportID, useCaseID: useCaseID, fieldKey: fieldKey}
}

// NewScope builds a scope from optional identifiers, where "" means none
func NewScope(reportID, useCaseID, fieldKey string) (Scope, error) {
	if fieldKey == "" {
		return Scope{}, fmt.Errorf("%w: fieldKey is required", ErrInvalidScope)
	}
	if err := expr.ValidateIdentifier(fieldKey); err != nil {
		return Scope{}, fmt.Errorf("%w: fieldKey: %v", ErrInvalidScope, err)
	}
	switch {
	case reportID == "" && useCaseID == "":
		return GlobalScope(fieldKey), nil
	case reportID == "":
		return Scope{}, fmt.Errorf("%w: useCaseId %q requires a reportId", ErrInvalidScope, useCaseID)
	case useCaseID == "":
		return ReportScope(reportID, fieldKey), nil
	}
	return UseCaseScope(reportID, useCaseID, fieldKey), nil
}

func (s Scope) Level() Level { return s.level }
func (s Scope) ReportID() string { return s.reportID }
func (s Scope) UseCaseID() string { return s.useCaseID }
func (s Scope) FieldKey() string { return s.fieldKey }

// IsValid reports whether the field key is a usable identifier
func (s Scope) IsValid() bool { return expr.ValidateIdentifier(s.fieldKey) == nil }

// Key is a stable string form, unique per exact scope. Each part is
// path-escaped, so a "/" inside an id cannot alias another scope.
func (s Scope) Key() string {
	switch s.level {
	case LevelUseCase:
		return fmt.Sprintf("usecase/%s/%s/%s", url.PathEscape(s.reportID), url.PathEscape(s.useCaseID), url.PathEscape(s.fieldKey))
	case LevelReport:
		return fmt.Sprintf("report/%s/%s", url.PathEscape(s.reportID), url.PathEscape(s.fieldKey))
	}
	return "global/" + url.PathEscape(s.fieldKey)
}

func (s Scope) String() string {
	return s.Key()
}

// Fallbacks lists the scopes consulted by the resolution policy, most specific first
func (s Scope) Fallbacks() []Scope {
	switch s.level {
	case LevelUseCase:
		return []Scope{s, ReportScope(s.reportID, s.fieldKey), GlobalScope(s.fieldKey)}
	case LevelReport:
		return []Scope{s, GlobalScope(s.fieldKey)}
	}
	return []Scope{s}
}

type scopeJSON struct {
	ReportID  *string `json:"reportId"`
	UseCaseID *string `json:"useCaseId"`
	FieldKey  string  `json:"fieldKey"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	out := scopeJSON{FieldKey: s.fieldKey}
	if s.level != LevelGlobal {
		out.ReportID = &s.reportID
	}
	if s.level == LevelUseCase {
		out.UseCaseID = &s.useCaseID
	}
	return json.Marshal(out)
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var in scopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var reportID, useCaseID string
	if in.ReportID != nil {
		reportID = *in.ReportID
	}
	if in.UseCaseID != nil {
		useCaseID = *in.UseCaseID
	}
	parsed, err := NewScope(reportID, useCaseID, in.FieldKey)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
