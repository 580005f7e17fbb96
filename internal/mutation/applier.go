package mutation

import (
	"errors"
	"fmt"
	"time"

	"cellvault/internal/failure"
	"cellvault/internal/workbook"
)

// ChangeRequest proposes one cell write. Value is coerced with workbook.Coerce.
type ChangeRequest struct {
	Sheet string `json:"sheet" validate:"required"`
	Cell  string `json:"cell" validate:"required"`
	Value any    `json:"value"`
}

// Actor identifies who performs a mutation.
type Actor struct {
	UserID string
	Email  string
}

// ChangeResult is the immutable outcome of applying one ChangeRequest.
type ChangeResult struct {
	Sheet  string         `json:"sheet"`
	Cell   string         `json:"cell"`
	Old    workbook.Value `json:"old_value"`
	New    workbook.Value `json:"new_value"`
	UserID string         `json:"user_id"`
	Email  string         `json:"email,omitempty"`
	At     time.Time      `json:"changed_at"`
}

// Apply validates every change against doc, then applies them in order.
// Nothing is written unless the whole batch resolves and every coerced value
// fits its cell. Each result's Old is
// read immediately before its own write, so repeated writes to one cell
// chain correctly. A write failure restores the cells already touched.
func Apply(doc *workbook.Document, changes []ChangeRequest, actor Actor, at time.Time) ([]ChangeResult, error) {
	if len(changes) == 0 {
		return nil, failure.New(failure.KindValidation, "no changes provided")
	}
	addrs := make([]workbook.Address, len(changes))
	values := make([]workbook.Value, len(changes))
	for i, ch := range changes {
		addr, err := workbook.Resolve(doc, ch.Sheet, ch.Cell)
		if err != nil {
			return nil, rejectChange(i, ch, err)
		}
		values[i] = workbook.Coerce(ch.Value)
		if err := values[i].Check(); err != nil {
			return nil, rejectChange(i, ch, err)
		}
		addrs[i] = addr
	}

	results := make([]ChangeResult, 0, len(changes))
	for i, ch := range changes {
		old, err := doc.Get(addrs[i])
		if err != nil {
			rollback(doc, addrs, results)
			return nil, failure.Wrap(failure.KindInternal, err, "read %s!%s", ch.Sheet, addrs[i].Cell())
		}
		next := values[i]
		if err := doc.Set(addrs[i], next); err != nil {
			rollback(doc, addrs, results)
			return nil, failure.Wrap(failure.KindInternal, err, "write %s!%s", ch.Sheet, addrs[i].Cell())
		}
		results = append(results, ChangeResult{
			Sheet:  ch.Sheet,
			Cell:   addrs[i].Cell(),
			Old:    old,
			New:    next,
			UserID: actor.UserID,
			Email:  actor.Email,
			At:     at,
		})
	}
	return results, nil
}

// rejectChange reports resolution failures as validation errors; an unknown
// sheet in a write batch is bad input rather than a missing resource.
func rejectChange(i int, ch ChangeRequest, err error) error {
	msg := fmt.Sprintf("change %d (%s!%s)", i, ch.Sheet, ch.Cell)
	if errors.Is(err, workbook.ErrSheetNotFound) {
		return failure.Wrap(failure.KindValidation, err, "%s: unknown sheet", msg)
	}
	return failure.Wrap(failure.KindValidation, err, "%s", msg)
}

func rollback(doc *workbook.Document, addrs []workbook.Address, applied []ChangeResult) {
	for i := len(applied) - 1; i >= 0; i-- {
		_ = doc.Set(addrs[i], applied[i].Old)
	}
}

// finalValues returns the last intended value per cell, keyed "sheet!cell".
func finalValues(results []ChangeResult) (map[string]workbook.Value, []ChangeResult) {
	vals := make(map[string]workbook.Value, len(results))
	var order []ChangeResult
	for _, r := range results {
		k := r.Sheet + "!" + r.Cell
		if _, seen := vals[k]; !seen {
			order = append(order, r)
		}
		vals[k] = r.New
	}
	return vals, order
}
