package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mfa-engine/policy-core/pkg/types"
)

// validNameRe limits policy names to identifier-like strings so they
// survive the INI interchange format unescaped.
var validNameRe = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]*$`)

// Validator checks policies against the action schema before they are
// stored.
type Validator struct {
	// tokenTypes feed the dynamic enrollment actions during validation
	tokenTypes []string
}

// NewValidator creates a validator over the default token types
func NewValidator() *Validator {
	return &Validator{tokenTypes: DefaultTokenTypes}
}

// NewValidatorForTokenTypes creates a validator that additionally
// accepts the enrollment actions of the given token types.
func NewValidatorForTokenTypes(tokenTypes []string) *Validator {
	return &Validator{tokenTypes: tokenTypes}
}

// Validate returns a KindParameter error when the policy cannot be
// stored: missing or malformed name, unknown scope, malformed client
// entries, or action values violating their declared type, range or
// value set. Unknown action names are not an error; see Warnings.
func (v *Validator) Validate(p *types.Policy) error {
	if p == nil {
		return types.ParameterError("policy must not be nil")
	}
	if p.Name == "" {
		return types.ParameterError("policy name is required")
	}
	if !validNameRe.MatchString(p.Name) {
		return types.ParameterError("invalid policy name %q", p.Name)
	}
	if !p.Scope.Valid() {
		return types.ParameterError("unknown scope %q in policy %q", p.Scope, p.Name)
	}

	for _, entry := range p.Clients {
		spec, _ := types.Negated(entry)
		if _, err := types.ParseNetwork(spec); err != nil {
			return types.WrapParameter(err, "invalid client entry %q in policy %q", entry, p.Name)
		}
	}

	defs := v.definitions(p.Scope)
	for name, value := range p.Actions {
		bare, _ := types.Negated(name)
		def, known := defs[bare]
		if !known {
			continue
		}
		if err := checkValue(bare, def, value); err != nil {
			return types.ParameterError("policy %q: %v", p.Name, err)
		}
	}
	return nil
}

// Warnings returns the action names the schema does not define for the
// policy's scope. Unknown actions are kept: token modules define
// actions of their own.
func (v *Validator) Warnings(p *types.Policy) []string {
	if p == nil || !p.Scope.Valid() {
		return nil
	}
	defs := v.definitions(p.Scope)
	var warnings []string
	for _, name := range p.Actions.Names() {
		bare, _ := types.Negated(name)
		if bare == "*" {
			continue
		}
		if _, known := defs[bare]; !known {
			warnings = append(warnings, fmt.Sprintf("unknown action %q for scope %q", bare, p.Scope))
		}
	}
	return warnings
}

func (v *Validator) definitions(scope types.Scope) map[string]ActionDefinition {
	static := staticDefinitions()[scope]
	dynamic := DynamicDefinitions(v.tokenTypes)[scope]
	if len(dynamic) == 0 {
		return static
	}
	merged := make(map[string]ActionDefinition, len(static)+len(dynamic))
	for name, def := range static {
		merged[name] = def
	}
	for name, def := range dynamic {
		merged[name] = def
	}
	return merged
}

func checkValue(name string, def ActionDefinition, value types.ActionValue) error {
	if def.Type == TypeInt {
		if value.Flag {
			return fmt.Errorf("action %q requires an integer value", name)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value.Value))
		if err != nil {
			return fmt.Errorf("action %q requires an integer value, got %q", name, value.Value)
		}
		if def.Max > 0 && (n < def.Min || n > def.Max) {
			return fmt.Errorf("action %q value %d outside range %d..%d", name, n, def.Min, def.Max)
		}
		return nil
	}

	if len(def.Values) > 0 && !value.Flag {
		for _, allowed := range def.Values {
			if value.Value == allowed {
				return nil
			}
		}
		return fmt.Errorf("action %q value %q not in %v", name, value.Value, def.Values)
	}
	return nil
}
