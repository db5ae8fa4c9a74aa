package policy

import (
	"strings"
	"testing"
)

func validDefinition(id string) *Definition {
	return &Definition{
		ID:      id,
		Name:    "name-" + id,
		Type:    "network_security",
		Enabled: true,
		Conditions: []Condition{
			{Field: "source_ip", Operator: OperatorEqual, Value: "10.0.0.1"},
		},
		Actions: []Action{{Type: ActionDeny}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr string
	}{
		{"valid", func(d *Definition) {}, ""},
		{"empty id", func(d *Definition) { d.ID = "" }, "id"},
		{"empty name", func(d *Definition) { d.Name = "" }, "name"},
		{"empty type", func(d *Definition) { d.Type = "" }, "type"},
		{"unknown operator", func(d *Definition) { d.Conditions[0].Operator = "between" }, "operator"},
		{"empty condition field", func(d *Definition) { d.Conditions[0].Field = "" }, "field"},
		{"unknown action", func(d *Definition) { d.Actions[0].Type = "explode" }, "action"},
		{"no actions", func(d *Definition) { d.Actions = nil }, "action"},
		{
			"in requires list",
			func(d *Definition) {
				d.Conditions[0].Operator = OperatorIn
				d.Conditions[0].Value = "not-a-list"
			},
			"list",
		},
		{
			"matches requires valid regex",
			func(d *Definition) {
				d.Conditions[0].Operator = OperatorMatches
				d.Conditions[0].Value = "(["
			},
			"regex",
		},
		{
			"matches requires string",
			func(d *Definition) {
				d.Conditions[0].Operator = OperatorMatches
				d.Conditions[0].Value = 42
			},
			"string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition("p1")
			tt.mutate(def)
			err := Validate(def)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSetAggregatesAndRejectsDuplicates(t *testing.T) {
	bad1 := validDefinition("a")
	bad1.Name = ""
	bad2 := validDefinition("b")
	bad2.Actions = nil

	err := ValidateSet([]*Definition{bad1, bad2})
	if err == nil {
		t.Fatal("ValidateSet() = nil, want aggregated error")
	}
	var verrs *ValidationErrors
	if !asValidationErrors(err, &verrs) || len(verrs.Errors) < 2 {
		t.Fatalf("expected at least 2 aggregated problems, got %v", err)
	}

	dup := []*Definition{validDefinition("same"), validDefinition("same")}
	if err := ValidateSet(dup); err == nil {
		t.Fatal("duplicate ids accepted")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{PolicyID: "p", Message: "bad"}, CodeValidation},
		{&ValidationErrors{Errors: []*ValidationError{{}}}, CodeValidation},
		{&NotFoundError{PolicyID: "p"}, CodeNotFound},
		{&ConflictError{PolicyID: "p"}, CodeConflict},
		{&TimeoutError{PolicyType: "t"}, CodeTimeout},
		{&StorageError{Backend: "sqlite", Op: "save"}, CodeStorage},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%T) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestDefinitionClone(t *testing.T) {
	def := validDefinition("p1")
	def.Actions[0].Parameters = map[string]interface{}{"severity": "high"}

	clone := def.Clone()
	clone.Conditions[0].Field = "changed"
	clone.Actions[0].Parameters["severity"] = "low"

	if def.Conditions[0].Field != "source_ip" {
		t.Error("clone shares condition storage with the original")
	}
	if def.Actions[0].Parameters["severity"] != "high" {
		t.Error("clone shares action parameters with the original")
	}
}

func asValidationErrors(err error, target **ValidationErrors) bool {
	ve, ok := err.(*ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}
