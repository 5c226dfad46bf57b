// Package resolver rewrites YAML-decoded configuration values by substituting
// environment-variable references and cross-stage output references before a
// stage runs.
package resolver

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/oxisdev/oxis/internal/envelope"
)

// envVarPattern matches ${NAME} or ${NAME:-DEFAULT} where NAME is an uppercase
// environment-variable identifier.
var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(?::(-)?([^}]*))?\}`)

// stepRefPattern matches ${stage_id(.segment)*} where stage_id is a lowercase-
// leaning identifier distinct from the all-caps env-var form.
var stepRefPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(\.([a-zA-Z0-9_.]+))?\}`)

// EnvVarNotFoundError is returned when an environment reference has no cached
// value, no process environment value, and no default.
type EnvVarNotFoundError struct {
	Name string
}

func (e *EnvVarNotFoundError) Error() string {
	return fmt.Sprintf("resolver: environment variable %q not found", e.Name)
}

// StepNotFoundError is returned when a stage-output reference names a stage id
// with no recorded output yet.
type StepNotFoundError struct {
	StepID string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("resolver: step %q output not found", e.StepID)
}

// FieldNotFoundError is returned when a stage-output reference navigates past
// the end of the recorded output's structure.
type FieldNotFoundError struct {
	StepID string
	Field  string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("resolver: field %q not found in output of step %q", e.Field, e.StepID)
}

// Resolver tracks cached environment variables and recorded step outputs, and
// rewrites configuration trees against them.
type Resolver struct {
	envVars     map[string]string
	stepOutputs map[string]envelope.Envelope
}

// New returns a resolver with no cached env vars and no recorded step outputs.
func New() *Resolver {
	return &Resolver{
		envVars:     make(map[string]string),
		stepOutputs: make(map[string]envelope.Envelope),
	}
}

// NewDefault returns a resolver pre-seeded with a handful of common environment
// variables available to every pipeline run without explicit caching.
func NewDefault() *Resolver {
	r := New()
	r.LoadCommonEnvVars()
	return r
}

var commonEnvVars = []string{"HOME", "PATH", "USER", "PWD", "SHELL", "LOG_LEVEL", "OUTPUT_FORMAT", "DEBUG"}

// LoadCommonEnvVars caches a fixed set of common environment variables if set.
func (r *Resolver) LoadCommonEnvVars() {
	for _, name := range commonEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			r.envVars[name] = v
		}
	}
}

// CacheEnvVar records an environment variable value to be preferred over the
// process environment.
func (r *Resolver) CacheEnvVar(name, value string) {
	r.envVars[name] = value
}

// AddStepOutput records a completed step's output envelope for later reference
// resolution by subsequent steps.
func (r *Resolver) AddStepOutput(stepID string, out envelope.Envelope) {
	r.stepOutputs[stepID] = out
}

// ResolveValue recursively rewrites a decoded YAML value: strings are
// substituted, mappings and sequences are traversed element-wise, other
// scalars pass through unchanged.
func (r *Resolver) ResolveValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			resolved, err := r.ResolveValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			resolved, err := r.ResolveValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString applies environment substitution followed by step-reference
// substitution, each pass performed right-to-left.
func (r *Resolver) resolveString(s string) (string, error) {
	s, err := r.resolveEnvVars(s)
	if err != nil {
		return "", err
	}
	return r.resolveStepRefs(s)
}

func (r *Resolver) resolveEnvVars(s string) (string, error) {
	matches := envVarPattern.FindAllStringSubmatchIndex(s, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		full := s[m[0]:m[1]]
		name := s[m[2]:m[3]]
		hasDefault := m[4] != -1
		defaultValue := ""
		if m[6] != -1 {
			defaultValue = s[m[6]:m[7]]
		}

		value, ok := r.envVars[name]
		if !ok {
			value, ok = os.LookupEnv(name)
		}
		if !ok {
			if hasDefault {
				value = defaultValue
			} else {
				return "", &EnvVarNotFoundError{Name: name}
			}
		}
		s = s[:m[0]] + value + s[m[1]:]
	}
	return s, nil
}

func (r *Resolver) resolveStepRefs(s string) (string, error) {
	matches := stepRefPattern.FindAllStringSubmatchIndex(s, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		stepID := s[m[2]:m[3]]

		var fieldPath string
		if m[6] != -1 {
			fieldPath = s[m[6]:m[7]]
		}

		out, ok := r.stepOutputs[stepID]
		if !ok {
			return "", &StepNotFoundError{StepID: stepID}
		}

		var value string
		var err error
		if fieldPath != "" {
			value, err = extractField(stepID, out, fieldPath)
		} else {
			value, err = out.ToText()
		}
		if err != nil {
			return "", err
		}
		s = s[:m[0]] + value + s[m[1]:]
	}
	return s, nil
}

// extractField navigates a step's JSON output by dot-separated path segments,
// treating numeric segments as array indices and all others as object keys.
func extractField(stepID string, out envelope.Envelope, path string) (string, error) {
	if out.Kind != envelope.KindJSON {
		return "", fmt.Errorf("resolver: field extraction from %s output not supported for step %q", out.Kind, stepID)
	}

	var current any = out.JSON
	for _, segment := range strings.Split(path, ".") {
		if idx, err := strconv.Atoi(segment); err == nil {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return "", &FieldNotFoundError{StepID: stepID, Field: segment}
			}
			current = arr[idx]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return "", &FieldNotFoundError{StepID: stepID, Field: segment}
		}
		v, ok := obj[segment]
		if !ok {
			return "", &FieldNotFoundError{StepID: stepID, Field: segment}
		}
		current = v
	}

	return stringifyLeaf(current)
}

func stringifyLeaf(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case nil:
		return "", nil
	default:
		e := envelope.FromJSON(val)
		return e.CanonicalYAML()
	}
}
