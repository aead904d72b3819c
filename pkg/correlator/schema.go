package correlator

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/security"
)

// FieldSpec declares one field of a kind's response.
type FieldSpec struct {
	Name     string
	Required bool
	// Rating fields hold an integer between 1 and 5.
	Rating bool
}

// Schema is the ordered set of fields a kind accepts.
type Schema struct {
	Kind   core.JobKind
	Fields []FieldSpec
}

// StandupSchema asks what the user works on and what blocks them.
var StandupSchema = Schema{
	Kind: core.KindStandup,
	Fields: []FieldSpec{
		{Name: "accomplishments"},
		{Name: "working_on", Required: true},
		{Name: "blockers", Required: true},
	},
}

// FeedbackSchema asks for two ratings and optional comments.
var FeedbackSchema = Schema{
	Kind: core.KindFeedback,
	Fields: []FieldSpec{
		{Name: "feeling_rating", Required: true, Rating: true},
		{Name: "feeling_text"},
		{Name: "satisfaction_rating", Required: true, Rating: true},
		{Name: "improvements"},
		{Name: "blockers"},
	},
}

// DefaultSchemas returns the built-in schema of every kind.
func DefaultSchemas() map[core.JobKind]Schema {
	return map[core.JobKind]Schema{
		core.KindStandup:  StandupSchema,
		core.KindFeedback: FeedbackSchema,
	}
}

// fieldValidator checks single values against validator tags.
var fieldValidator = validator.New(validator.WithRequiredStructEnabled())

func textTag(required bool) string {
	tag := "max=" + strconv.Itoa(security.MaxFieldValueLength)
	if required {
		return "required," + tag
	}
	return "omitempty," + tag
}

const ratingTag = "min=1,max=5"

// Validate checks fields against the schema in one pass and returns the
// accepted values in schema order. Values are trimmed and stripped of
// control characters; a blank value counts as missing. Fields the schema
// does not know are dropped. Every problem found is reported together in a
// *core.ValidationError.
func (s Schema) Validate(fields core.Fields) (core.Fields, error) {
	var (
		problems []core.FieldProblem
		out      core.Fields
	)

	for _, spec := range s.Fields {
		raw, _ := fields.Get(spec.Name)
		value := strings.TrimSpace(raw)

		if value == "" {
			if spec.Required {
				problems = append(problems, core.FieldProblem{Field: spec.Name, Reason: "is required"})
			}
			continue
		}

		if spec.Rating {
			n, err := strconv.Atoi(value)
			if err != nil {
				problems = append(problems, core.FieldProblem{Field: spec.Name, Reason: "must be a whole number from 1 to 5"})
				continue
			}
			if err := fieldValidator.Var(n, ratingTag); err != nil {
				problems = append(problems, core.FieldProblem{Field: spec.Name, Reason: "must be a whole number from 1 to 5"})
				continue
			}
			value = strconv.Itoa(n)
		} else {
			if err := fieldValidator.Var(value, textTag(spec.Required)); err != nil {
				problems = append(problems, core.FieldProblem{Field: spec.Name, Reason: reason(err)})
				continue
			}
			value = security.SanitizeFieldValue(value)
			if value == "" && spec.Required {
				problems = append(problems, core.FieldProblem{Field: spec.Name, Reason: "is required"})
				continue
			}
		}

		out = append(out, core.Field{Name: spec.Name, Value: value})
	}

	if len(problems) > 0 {
		return nil, &core.ValidationError{Problems: problems}
	}
	return out, nil
}

// reason turns a validator failure into a user-facing phrase.
func reason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "is invalid"
	}
	switch fe := verrs[0]; fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + strings.TrimSpace(fe.Tag())
	}
}
