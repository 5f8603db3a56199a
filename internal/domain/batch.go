package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Batch size bounds.
const (
	MinBatchSize = 1
	MaxBatchSize = 100
)

// BatchRequest asks for a set of items to be validated together.
type BatchRequest struct {
	Items          []Item         `json:"items"`
	Mode           ValidationMode `json:"validation_type"`
	Strict         bool           `json:"strict"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// CheckBounds enforces the batch size limits.
func (r *BatchRequest) CheckBounds() error {
	switch n := len(r.Items); {
	case n < MinBatchSize:
		return ErrEmptyBatch
	case n > MaxBatchSize:
		return &BatchTooLargeError{Max: MaxBatchSize, Size: n}
	}
	return nil
}

// Validate checks the request envelope. Items are validated one by one
// during the batch so a malformed item does not sink its neighbours.
func (r *BatchRequest) Validate() error {
	if err := r.CheckBounds(); err != nil {
		return err
	}
	if !r.Mode.IsValid() {
		return fmt.Errorf("%w: unknown validation_type %q", ErrInvalidRequest, r.Mode)
	}
	for i, item := range r.Items {
		if item == nil {
			return fmt.Errorf("%w: items[%d] is null", ErrInvalidRequest, i)
		}
	}
	return nil
}

// MarshalJSON writes every item with its item_type discriminator.
func (r BatchRequest) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(r.Items))
	for i, item := range r.Items {
		if u, ok := item.(*UndecodableItem); ok {
			items[i] = u.Raw
			continue
		}
		body, err := EncodeItem(item)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		items[i] = body
	}
	return json.Marshal(struct {
		Items          []json.RawMessage `json:"items"`
		Mode           ValidationMode    `json:"validation_type"`
		Strict         bool              `json:"strict"`
		IdempotencyKey string            `json:"idempotency_key,omitempty"`
	}{items, r.Mode, r.Strict, r.IdempotencyKey})
}

// UnmarshalJSON decodes a request, applying the wire defaults: mode "full"
// and strict true when omitted. An item that fails to decode is kept as an
// *UndecodableItem so it is reported at its index rather than rejecting
// the whole batch.
func (r *BatchRequest) UnmarshalJSON(data []byte) error {
	var wire struct {
		Items          []json.RawMessage `json:"items"`
		Mode           *ValidationMode   `json:"validation_type"`
		Strict         *bool             `json:"strict"`
		IdempotencyKey string            `json:"idempotency_key"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	out := BatchRequest{
		Items:          make([]Item, len(wire.Items)),
		Mode:           ValidationModeFull,
		Strict:         true,
		IdempotencyKey: wire.IdempotencyKey,
	}
	if wire.Mode != nil {
		out.Mode = *wire.Mode
	}
	if wire.Strict != nil {
		out.Strict = *wire.Strict
	}
	for i, raw := range wire.Items {
		item, err := DecodeItem(raw)
		if err != nil {
			item = newUndecodableItem(raw, err)
		}
		out.Items[i] = item
	}
	*r = out
	return nil
}

// UndecodableItem stands in for an item whose JSON could not be decoded.
// Its Validate method returns the decode error.
type UndecodableItem struct {
	Raw json.RawMessage
	id  string
	err error
}

func newUndecodableItem(raw json.RawMessage, err error) *UndecodableItem {
	var ids struct {
		ConceptID  any `json:"concept_id"`
		QuestionID any `json:"question_id"`
	}
	_ = json.Unmarshal(raw, &ids)
	id, _ := ids.QuestionID.(string)
	if id == "" {
		id, _ = ids.ConceptID.(string)
	}
	return &UndecodableItem{Raw: raw, id: id, err: err}
}

// ItemID implements Item with whatever identifier could be recovered.
func (u *UndecodableItem) ItemID() string { return u.id }

// Kind implements Item.
func (u *UndecodableItem) Kind() ItemKind { return "" }

// Validate implements Item.
func (u *UndecodableItem) Validate() error { return u.err }

// HasExecutableCode implements Item.
func (u *UndecodableItem) HasExecutableCode() bool { return false }

// Resources implements Item.
func (u *UndecodableItem) Resources() []string { return nil }

// MarshalJSON returns the original bytes.
func (u *UndecodableItem) MarshalJSON() ([]byte, error) {
	if u.Raw == nil {
		return []byte("null"), nil
	}
	return u.Raw, nil
}

// ItemError is the indexed failure of one item in a non-strict batch.
type ItemError struct {
	Index     int       `json:"index"`
	ItemID    string    `json:"item_id,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Field     string    `json:"field,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Retryable bool      `json:"retryable"`
}

// NewItemError classifies err for the item at index.
func NewItemError(index int, itemID string, err error) *ItemError {
	ie := &ItemError{
		Index:     index,
		ItemID:    itemID,
		Code:      CodeOf(err),
		Message:   err.Error(),
		Retryable: IsRetryable(err),
	}
	var malformed *MalformedItemError
	if errors.As(err, &malformed) {
		ie.Field = malformed.Field
		ie.Reason = malformed.Reason
	}
	return ie
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %s", e.Index, e.ItemID, e.Message)
}

// ItemResult is the outcome at one batch position: a report or an error.
type ItemResult struct {
	Index  int            `json:"index"`
	Report *QualityReport `json:"report,omitempty"`
	Error  *ItemError     `json:"error,omitempty"`
}

// BatchResult aggregates per-item outcomes in input order. Passed and Failed
// partition Total. Errored is the part of Failed that produced no report.
type BatchResult struct {
	Total     int            `json:"total_items"`
	Passed    int            `json:"passed"`
	Failed    int            `json:"failed"`
	Errored   int            `json:"errored"`
	Mode      ValidationMode `json:"validation_type"`
	Strict    bool           `json:"strict"`
	Results   []ItemResult   `json:"results"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewBatchResult tallies results and stamps the result with at.
func NewBatchResult(mode ValidationMode, strict bool, results []ItemResult, at time.Time) (*BatchResult, error) {
	br := &BatchResult{
		Total:     len(results),
		Mode:      mode,
		Strict:    strict,
		Results:   cloneSlice(results),
		Timestamp: at.UTC(),
	}
	for _, res := range results {
		switch {
		case res.Error != nil:
			br.Failed++
			br.Errored++
		case res.Report != nil && res.Report.PassesQuality:
			br.Passed++
		default:
			br.Failed++
		}
	}
	if err := br.Validate(); err != nil {
		return nil, err
	}
	return br, nil
}

// Validate checks the counting and ordering invariants.
func (b *BatchResult) Validate() error {
	if b.Total != b.Passed+b.Failed {
		return fmt.Errorf("%w: total %d != passed %d + failed %d",
			ErrInvalidReport, b.Total, b.Passed, b.Failed)
	}
	if len(b.Results) != b.Total {
		return fmt.Errorf("%w: %d results for %d items", ErrInvalidReport, len(b.Results), b.Total)
	}
	errored := 0
	for i, res := range b.Results {
		if res.Error != nil {
			errored++
		}
		if res.Index != i {
			return fmt.Errorf("%w: result %d carries index %d", ErrInvalidReport, i, res.Index)
		}
		if (res.Report == nil) == (res.Error == nil) {
			return fmt.Errorf("%w: result %d must hold exactly one of report or error", ErrInvalidReport, i)
		}
		if res.Error != nil && res.Error.Index != i {
			return fmt.Errorf("%w: error at %d carries index %d", ErrInvalidReport, i, res.Error.Index)
		}
	}
	if errored != b.Errored || errored > b.Failed {
		return fmt.Errorf("%w: %d error results but errored %d and failed %d",
			ErrInvalidReport, errored, b.Errored, b.Failed)
	}
	return nil
}

// Reports returns the reports in input order, skipping errored positions.
func (b *BatchResult) Reports() []*QualityReport {
	out := make([]*QualityReport, 0, len(b.Results))
	for _, res := range b.Results {
		if res.Report != nil {
			out = append(out, res.Report)
		}
	}
	return out
}
