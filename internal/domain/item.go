package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Item is a unit submitted for validation: a Concept or a Question.
type Item interface {
	// ItemID returns the identifier reported back in QualityReport.ItemID.
	ItemID() string
	// Kind returns the item kind.
	Kind() ItemKind
	// Validate checks structural preconditions and returns a
	// *MalformedItemError naming the first violation.
	Validate() error
	// HasExecutableCode reports whether the item contains code to run.
	HasExecutableCode() bool
	// Resources lists the libraries and resources the item references.
	Resources() []string
}

// Citation is a provisional reference attached to content.
type Citation struct {
	Source  CitationSource `json:"source" validate:"enum"`
	Title   string         `json:"title" validate:"required"`
	Locator string         `json:"locator" validate:"required"`
	URL     string         `json:"url,omitempty" validate:"omitempty,url"`
	License string         `json:"license,omitempty"`
}

// CodeExample is a code snippet with its expected output.
type CodeExample struct {
	Code           string `json:"code" validate:"min=10"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	// Runnable defaults to true when omitted.
	Runnable *bool `json:"runnable,omitempty"`
}

// IsRunnable reports whether the example is meant to be executed.
func (c CodeExample) IsRunnable() bool { return c.Runnable == nil || *c.Runnable }

// Concept is a Problem-System-Win content unit.
type Concept struct {
	ConceptID            string        `json:"concept_id" validate:"slug"`
	Title                string        `json:"title" validate:"min=5,max=100"`
	Problem              string        `json:"problem" validate:"min=50,max=500"`
	System               string        `json:"system" validate:"min=100,max=1000"`
	Win                  string        `json:"win" validate:"min=50,max=500"`
	CodeExamples         []CodeExample `json:"code_examples" validate:"min=1,max=10,dive"`
	ProvisionalCitations []Citation    `json:"provisional_citations,omitempty" validate:"dive"`
	Mode                 Mode          `json:"mode,omitempty" validate:"omitempty,enum"`
	Bloom                BloomsLevel   `json:"bloom,omitempty" validate:"omitempty,enum"`
	Difficulty           Difficulty    `json:"difficulty" validate:"enum"`
	Prerequisites        []string      `json:"prerequisites,omitempty"`
	Libraries            []Library     `json:"libraries,omitempty" validate:"dive,enum"`
	Tags                 []string      `json:"tags,omitempty"`
	CreatedAt            *time.Time    `json:"created_at,omitempty"`
}

// ItemID implements Item.
func (c *Concept) ItemID() string { return c.ConceptID }

// Kind implements Item.
func (c *Concept) Kind() ItemKind { return ItemKindContent }

// Validate implements Item.
func (c *Concept) Validate() error {
	return structError(validate.Struct(c))
}

// EffectiveMode returns the teaching mode, defaulting to coach.
func (c *Concept) EffectiveMode() Mode {
	if c.Mode == "" {
		return ModeCoach
	}
	return c.Mode
}

// HasExecutableCode implements Item.
func (c *Concept) HasExecutableCode() bool {
	return slices.ContainsFunc(c.CodeExamples, CodeExample.IsRunnable)
}

// Resources implements Item.
func (c *Concept) Resources() []string {
	out := make([]string, len(c.Libraries))
	for i, l := range c.Libraries {
		out[i] = string(l)
	}
	return out
}

// Question is a practice question attached to a concept.
type Question struct {
	QuestionID    string       `json:"question_id" validate:"slug"`
	ConceptID     string       `json:"concept_id" validate:"slug"`
	QuestionText  string       `json:"question_text" validate:"min=10,max=500"`
	QuestionType  QuestionType `json:"question_type" validate:"enum"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer" validate:"required"`
	Difficulty    Difficulty   `json:"difficulty" validate:"enum"`
	BloomsLevel   BloomsLevel  `json:"blooms_level" validate:"enum"`
	Explanation   string       `json:"explanation,omitempty"`
	Hints         []string     `json:"hints,omitempty"`
	CreatedAt     *time.Time   `json:"created_at,omitempty"`
}

// ItemID implements Item.
func (q *Question) ItemID() string { return q.QuestionID }

// Kind implements Item.
func (q *Question) Kind() ItemKind { return ItemKindQuestion }

// Validate implements Item. Besides the field rules it enforces the
// options contract of each question type.
func (q *Question) Validate() error {
	if err := structError(validate.Struct(q)); err != nil {
		return err
	}
	if strings.TrimSpace(q.CorrectAnswer) == "" {
		return &MalformedItemError{Field: "correct_answer", Reason: "must not be blank"}
	}

	switch q.QuestionType {
	case QuestionMultipleChoice:
		if n := len(q.Options); n < 2 || n > 6 {
			return &MalformedItemError{
				Field:  "options",
				Reason: fmt.Sprintf("multiple_choice requires 2 to 6 options, got %d", n),
			}
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return &MalformedItemError{Field: "correct_answer", Reason: "must be one of the options"}
		}
	case QuestionTrueFalse:
		if !isTrueFalsePair(q.Options) {
			return &MalformedItemError{Field: "options", Reason: `true_false options must be exactly "True" and "False"`}
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return &MalformedItemError{Field: "correct_answer", Reason: `must be "True" or "False"`}
		}
	default:
		if q.Options != nil {
			return &MalformedItemError{
				Field:  "options",
				Reason: fmt.Sprintf("%s questions must not have options", q.QuestionType),
			}
		}
	}
	return nil
}

func isTrueFalsePair(opts []string) bool {
	if len(opts) != 2 {
		return false
	}
	return slices.Contains(opts, "True") && slices.Contains(opts, "False")
}

// HasExecutableCode implements Item.
func (q *Question) HasExecutableCode() bool { return q.QuestionType.IsCode() }

// Resources implements Item. Questions reference no libraries directly.
func (q *Question) Resources() []string { return nil }

// WithCreatedAt returns item with created_at set to at when it carries
// none. The argument is never modified; a stamped copy is returned.
func WithCreatedAt(item Item, at time.Time) Item {
	at = at.UTC()
	switch it := item.(type) {
	case *Concept:
		if it.CreatedAt == nil {
			c := *it
			c.CreatedAt = &at
			return &c
		}
	case *Question:
		if it.CreatedAt == nil {
			q := *it
			q.CreatedAt = &at
			return &q
		}
	}
	return item
}

// DecodeItem decodes one item from JSON. An explicit "item_type" field wins;
// otherwise an object carrying "question_id" is a Question and anything else
// is a Concept. Type errors are reported as *MalformedItemError.
func DecodeItem(data []byte) (Item, error) {
	var probe struct {
		ItemType   ItemKind        `json:"item_type"`
		QuestionID json.RawMessage `json:"question_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, decodeError(err)
	}

	kind := probe.ItemType
	switch {
	case kind == "" && probe.QuestionID != nil:
		kind = ItemKindQuestion
	case kind == "":
		kind = ItemKindContent
	case !kind.IsValid():
		return nil, &MalformedItemError{Field: "item_type", Reason: fmt.Sprintf("unknown value %q", kind)}
	}

	return DecodeItemAs(data, kind)
}

// DecodeItemAs decodes data as an item of the given kind, ignoring any
// discriminator in the payload.
func DecodeItemAs(data []byte, kind ItemKind) (Item, error) {
	var item Item
	switch kind {
	case ItemKindQuestion:
		item = &Question{}
	case ItemKindContent:
		item = &Concept{}
	default:
		return nil, &MalformedItemError{Field: "item_type", Reason: fmt.Sprintf("unknown value %q", kind)}
	}
	if err := json.Unmarshal(data, item); err != nil {
		return nil, decodeError(err)
	}
	return item, nil
}

// EncodeItem encodes an item with an explicit "item_type" discriminator so
// DecodeItem round-trips it without relying on field sniffing.
func EncodeItem(item Item) ([]byte, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: item is null", ErrInvalidRequest)
	}
	body, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%w: %s item did not encode as an object", ErrInvalidRequest, item.Kind())
	}
	prefix := fmt.Sprintf(`{"item_type":%q`, item.Kind())
	if len(body) == 2 {
		return []byte(prefix + "}"), nil
	}
	return append([]byte(prefix+","), body[1:]...), nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "item"
		}
		return &MalformedItemError{Field: field, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
	}
	return &MalformedItemError{Field: "item", Reason: "invalid JSON: " + err.Error()}
}
