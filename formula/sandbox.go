/*
Package formula is the restricted expression evaluator used by pricing rules
and pricing-profile risk formulas.

PURPOSE:
  Rules may express their premium impact as an arithmetic formula over the
  facts being priced ("base_premium * 0.1 + risk_score * 50"). Formulas are
  configuration entered by administrators, so they are untrusted input: the
  sandbox must guarantee no I/O, no attribute access, no introspection and a
  bounded function set.

APPROACH:
  Formulas are never handed to a general evaluator. A hand-written
  recursive-descent parser produces an AST that can only contain:
    - number literals
    - variable references
    - unary + / -
    - binary + - * / % ^ (** is accepted as ^)
    - calls to abs, min, max, round, sum, avg, sqrt, log, exp
  Anything the grammar cannot express (strings, indexing, dots, lambdas,
  assignment, loops) is a syntax error. The grammar has no loop constructs,
  and every intermediate value is capped at 1e30 with 30 decimal places,
  so evaluation always terminates quickly.

VALIDATION PIPELINE (Validate):
  1. Non-empty and within MaxLength
  2. Parse (syntax errors reject)
  3. Denylist scan: forbidden keywords, "__", dunder/import/lambda patterns
  4. Analysis: variables, functions, node count, nesting depth
  5. Every called function must be allow-listed
  6. Unknown variables produce a warning, not an error
  7. Dry run with sample values; result must be numeric, negative warns

  Security rejections are hard failures: an expression that fails step 3 or 5
  is never executed, by Validate or by Evaluate.

USAGE:
  sb := formula.NewSandbox()
  res := sb.Validate("base_premium * 1.1 + risk_score")
  if !res.IsValid { ... res.Errors ... }

  v, err := sb.Evaluate("max(base_premium * 0.05, 25)", vars)

SEE ALSO:
  - pricing/evaluator.go: Evaluates rule formulas through the sandbox
  - pricing/profile.go: Validates profile risk formulas
*/
package formula

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyExpression is returned for blank formulas.
	ErrEmptyExpression = errors.New("formula expression is empty")

	// ErrSyntax is returned when the expression does not parse.
	ErrSyntax = errors.New("formula syntax error")

	// ErrUnsafeExpression is returned when the denylist scan rejects the expression.
	ErrUnsafeExpression = errors.New("formula contains forbidden content")

	// ErrFunctionNotAllowed is returned when a call targets a function outside the allow-list.
	ErrFunctionNotAllowed = errors.New("function not allowed")

	// ErrUndefinedVariable is returned when a referenced variable has no value.
	ErrUndefinedVariable = errors.New("undefined variable")

	// ErrEvaluation is returned for runtime failures (division by zero, domain errors).
	ErrEvaluation = errors.New("formula evaluation failed")
)

// =============================================================================
// LIMITS & DENYLIST
// =============================================================================

const (
	DefaultMaxLength = 1000
	DefaultMaxDepth  = 32

	// complexityWarning is the node count above which Validate warns.
	complexityWarning = 100
)

var deniedKeywords = map[string]bool{
	"import": true, "exec": true, "eval": true, "compile": true, "open": true,
	"file": true, "globals": true, "locals": true, "vars": true, "dir": true,
	"getattr": true, "setattr": true, "delattr": true, "hasattr": true,
	"callable": true, "isinstance": true, "issubclass": true, "lambda": true,
}

var (
	identPattern  = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	dunderPattern = regexp.MustCompile(`__\w+__`)
	importPattern = regexp.MustCompile(`(?i)(__import__|\bimport\s*\(|\bfrom\s+\w+\s+import\b)`)
	lambdaPattern = regexp.MustCompile(`(?i)\blambda\b`)
)

// scanUnsafe applies the denylist to the raw text. Keywords are matched
// against whole identifiers, case-insensitively, so a field such as
// "profile_factor" is not rejected for containing "file".
func scanUnsafe(expr string) []string {
	var problems []string
	if strings.Contains(expr, "__") {
		problems = append(problems, "double underscore is not permitted")
	}
	if dunderPattern.MatchString(expr) {
		problems = append(problems, "dunder names are not permitted")
	}
	if importPattern.MatchString(expr) {
		problems = append(problems, "import statements are not permitted")
	}
	if lambdaPattern.MatchString(expr) {
		problems = append(problems, "lambda expressions are not permitted")
	}
	seen := map[string]bool{}
	for _, id := range identPattern.FindAllString(expr, -1) {
		kw := normalizeName(id)
		if deniedKeywords[kw] && !seen[kw] {
			seen[kw] = true
			problems = append(problems, fmt.Sprintf("forbidden keyword %q", id))
		}
	}
	return problems
}

// =============================================================================
// SANDBOX
// =============================================================================

// Sandbox holds the static configuration of the evaluator. It has no mutable
// state after construction and is safe for concurrent use.
type Sandbox struct {
	// KnownFields maps each recognised variable to the sample value used for
	// the dry run.
	KnownFields map[string]decimal.Decimal

	MaxLength int
	MaxDepth  int
}

// DefaultKnownFields lists the facts pricing formulas are expected to use.
var DefaultKnownFields = map[string]decimal.Decimal{
	"base_premium":        decimal.NewFromInt(1000),
	"premium":             decimal.NewFromInt(1000),
	"base_rate":           decimal.RequireFromString("0.05"),
	"age":                 decimal.NewFromInt(35),
	"driver_age":          decimal.NewFromInt(35),
	"vehicle_age":         decimal.NewFromInt(5),
	"vehicle_value":       decimal.NewFromInt(25000),
	"property_value":      decimal.NewFromInt(300000),
	"building_age":        decimal.NewFromInt(20),
	"sum_insured":         decimal.NewFromInt(100000),
	"coverage_amount":     decimal.NewFromInt(100000),
	"deductible":          decimal.NewFromInt(500),
	"copay":               decimal.NewFromInt(20),
	"coinsurance":         decimal.NewFromInt(20),
	"service_cost":        decimal.NewFromInt(1000),
	"risk_score":          decimal.RequireFromString("0.4"),
	"credit_score":        decimal.NewFromInt(700),
	"claims_count":        decimal.NewFromInt(1),
	"claim_history_count": decimal.NewFromInt(1),
	"years_licensed":      decimal.NewFromInt(10),
	"experience_years":    decimal.NewFromInt(10),
	"bmi":                 decimal.NewFromInt(24),
	"smoker":              decimal.Zero,
	"dependents":          decimal.NewFromInt(2),
	"family_size":         decimal.NewFromInt(3),
	"policy_term":         decimal.NewFromInt(12),
	"term_years":          decimal.NewFromInt(1),
	"territory_factor":    decimal.RequireFromString("1.1"),
	"location_risk":       decimal.RequireFromString("1.2"),
	"occupation_class":    decimal.NewFromInt(2),
	"loading_factor":      decimal.RequireFromString("1.15"),
	"discount_rate":       decimal.NewFromInt(10),
	"adjustment_value":    decimal.NewFromInt(10),
}

// NewSandbox returns a sandbox with the default field set and limits.
func NewSandbox() *Sandbox {
	known := make(map[string]decimal.Decimal, len(DefaultKnownFields))
	for k, v := range DefaultKnownFields {
		known[k] = v
	}
	return &Sandbox{KnownFields: known, MaxLength: DefaultMaxLength, MaxDepth: DefaultMaxDepth}
}

// WithFields returns a copy of the sandbox that also recognises the given
// variables, e.g. a rule's formula_variables.
func (s *Sandbox) WithFields(fields map[string]decimal.Decimal) *Sandbox {
	cp := *s
	cp.KnownFields = make(map[string]decimal.Decimal, len(s.KnownFields)+len(fields))
	for k, v := range s.KnownFields {
		cp.KnownFields[k] = v
	}
	for k, v := range fields {
		cp.KnownFields[k] = v
	}
	return &cp
}

func (s *Sandbox) maxLength() int {
	if s.MaxLength <= 0 {
		return DefaultMaxLength
	}
	return s.MaxLength
}

// ValidationResult reports the outcome of Validate.
type ValidationResult struct {
	IsValid    bool     `json:"is_valid"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	Variables  []string `json:"variables"`
	Functions  []string `json:"functions"`
	Complexity int      `json:"complexity"`
	Depth      int      `json:"depth"`
	// DryRunResult is the value produced with sample inputs, when the dry run ran.
	DryRunResult *decimal.Decimal `json:"dry_run_result,omitempty"`
}

// Validate runs the full validation pipeline without caller data.
func (s *Sandbox) Validate(expr string) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}

	if strings.TrimSpace(expr) == "" {
		res.Errors = append(res.Errors, ErrEmptyExpression.Error())
		return res
	}
	if len(expr) > s.maxLength() {
		res.Errors = append(res.Errors, fmt.Sprintf("formula longer than %d characters", s.maxLength()))
		return res
	}

	ast, parseErr := Parse(expr, s.MaxDepth)
	if parseErr != nil {
		res.Errors = append(res.Errors, parseErr.Error())
	}
	for _, p := range scanUnsafe(expr) {
		res.Errors = append(res.Errors, ErrUnsafeExpression.Error()+": "+p)
	}
	if parseErr != nil {
		return res
	}

	a := Analyze(ast)
	res.Variables = a.Variables
	res.Functions = a.Functions
	res.Complexity = a.Complexity
	res.Depth = a.Depth
	if a.Complexity > complexityWarning {
		res.Warnings = append(res.Warnings, fmt.Sprintf("formula is complex (%d nodes)", a.Complexity))
	}

	for _, fn := range a.Functions {
		if !IsAllowedFunction(fn) {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s (allowed: %s)",
				ErrFunctionNotAllowed, fn, strings.Join(AllowedFunctions, ", ")))
		}
	}
	for _, v := range a.Variables {
		if _, ok := s.KnownFields[v]; !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unrecognized variable %q", v))
		}
	}
	if len(res.Errors) > 0 {
		return res
	}

	sample := make(map[string]decimal.Decimal, len(a.Variables))
	for _, v := range a.Variables {
		if val, ok := s.KnownFields[v]; ok {
			sample[v] = val
		} else {
			sample[v] = decimal.NewFromInt(1)
		}
	}
	out, err := Eval(ast, sample)
	if err != nil {
		res.Errors = append(res.Errors, "dry run failed: "+err.Error())
		return res
	}
	res.DryRunResult = &out
	if out.IsNegative() {
		res.Warnings = append(res.Warnings, "formula produced a negative result with sample values")
	}

	res.IsValid = true
	return res
}

// Compile parses expr and applies the security checks that gate execution.
// It does not run the dry run and does not care about unknown variables.
func (s *Sandbox) Compile(expr string) (Node, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, ErrEmptyExpression
	}
	if len(expr) > s.maxLength() {
		return nil, fmt.Errorf("%w: longer than %d characters", ErrSyntax, s.maxLength())
	}
	if problems := scanUnsafe(expr); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsafeExpression, strings.Join(problems, "; "))
	}
	ast, err := Parse(expr, s.MaxDepth)
	if err != nil {
		return nil, err
	}
	var denied []string
	for _, fn := range Analyze(ast).Functions {
		if !IsAllowedFunction(fn) {
			denied = append(denied, fn)
		}
	}
	if len(denied) > 0 {
		sort.Strings(denied)
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotAllowed, strings.Join(denied, ", "))
	}
	return ast, nil
}

// Evaluate compiles and runs expr with vars as the only namespace.
// Every failure is returned as an error; nothing panics out of the sandbox.
func (s *Sandbox) Evaluate(expr string, vars map[string]decimal.Decimal) (result decimal.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = decimal.Zero, evalErrorf("%v", r)
		}
	}()
	ast, err := s.Compile(expr)
	if err != nil {
		return decimal.Zero, err
	}
	return Eval(ast, vars)
}

// =============================================================================
// PACKAGE-LEVEL CONVENIENCE
// =============================================================================

var defaultSandbox = NewSandbox()

// Validate runs the validation pipeline with the default sandbox.
func Validate(expr string) ValidationResult { return defaultSandbox.Validate(expr) }

// Evaluate runs expr with the default sandbox.
func Evaluate(expr string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	return defaultSandbox.Evaluate(expr, vars)
}
