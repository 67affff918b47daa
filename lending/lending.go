package lending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrRequestOutstanding is returned when a mutation is attempted on a
// copy that already has one in flight, so a double-click cannot submit
// the same transition twice.
var ErrRequestOutstanding = errors.New("a request for this copy is already in progress")

// StateMachine drives the legal status transitions of a book's copies
// strictly through server-confirmed round-trips. It holds a transient
// cache of the book last loaded for a view; the server owns the truth
// and every mutation reconciles from the response, never from local
// arithmetic on the pre-state.
type StateMachine struct {
	client *Client

	mu       sync.Mutex
	book     *Book
	inflight map[int64]bool
}

func NewStateMachine(client *Client) *StateMachine {
	return &StateMachine{client: client, inflight: make(map[int64]bool)}
}

// Load fetches a book with its copies and makes it the cached view.
func (sm *StateMachine) Load(ctx context.Context, bookID int64) (*Book, error) {
	book, err := sm.client.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	sm.mu.Lock()
	sm.book = book
	sm.mu.Unlock()
	return book, nil
}

// Book returns the cached view, or nil before the first Load.
func (sm *StateMachine) Book() *Book {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.book
}

// Availability derives whether any copy of b can be borrowed. Pure:
// recomputed from fetched counts, never mutated directly.
func Availability(b *Book) bool { return b != nil && b.AvailableCopies > 0 }

// Busy reports whether a mutation for the copy is outstanding. Callers
// use it to disable the triggering control.
func (sm *StateMachine) Busy(copyID int64) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.inflight[copyID]
}

// Borrow submits a borrow for the copy. The Available precondition is
// optimistic: the server re-validates it, and a race with another
// client surfaces as a Conflict with the server's reason verbatim. On
// failure the cached view is left untouched; on success the cache is
// reconciled from the confirmed post-state.
func (sm *StateMachine) Borrow(ctx context.Context, copyID int64) (*LoanUpdate, error) {
	release, err := sm.begin(copyID)
	if err != nil {
		return nil, err
	}
	defer release()

	update, err := sm.client.BorrowCopy(ctx, copyID)
	if err != nil {
		return nil, err
	}
	if err := sm.reconcile(ctx, update); err != nil {
		return nil, err
	}
	return update, nil
}

// Return submits a return for a borrowed copy. On success the copy
// comes back Available and the closed loan record arrives from the
// server with returned_date and is_returned set.
func (sm *StateMachine) Return(ctx context.Context, copyID int64) (*LoanUpdate, error) {
	release, err := sm.begin(copyID)
	if err != nil {
		return nil, err
	}
	defer release()

	update, err := sm.client.ReturnCopy(ctx, copyID)
	if err != nil {
		return nil, err
	}
	if err := sm.reconcile(ctx, update); err != nil {
		return nil, err
	}
	return update, nil
}

// AddToWishlist subscribes the user to the book. Idempotent from the
// caller's side: the desired end state is "an entry exists", so a
// duplicate-entry rejection is reported as success.
func (sm *StateMachine) AddToWishlist(ctx context.Context, bookID int64) error {
	_, err := sm.client.AddWishlist(ctx, bookID)
	if err != nil && isDuplicateEntry(err) {
		return nil
	}
	return err
}

// begin marks a copy as having a mutation in flight.
func (sm *StateMachine) begin(copyID int64) (func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.inflight[copyID] {
		return nil, fmt.Errorf("copy %d: %w", copyID, ErrRequestOutstanding)
	}
	sm.inflight[copyID] = true
	return func() {
		sm.mu.Lock()
		delete(sm.inflight, copyID)
		sm.mu.Unlock()
	}, nil
}

// reconcile folds the confirmed post-state into the cached view. When
// the response does not carry full post-state, the affected book is
// refetched instead; post-state is never inferred from the pre-state
// plus the intended transition.
func (sm *StateMachine) reconcile(ctx context.Context, update *LoanUpdate) error {
	sm.mu.Lock()
	cached := sm.book

	if update.Book != nil {
		if cached == nil || cached.ID == update.Book.ID {
			fresh := *update.Book
			if cached != nil && len(fresh.Instances) == 0 {
				// A lean book payload omits the copies; keep the
				// cached list so siblings survive the update.
				fresh.Instances = append([]BookCopy(nil), cached.Instances...)
			}
			if update.Copy != nil {
				replaceCopy(&fresh, *update.Copy)
			}
			sm.book = &fresh
		}
		sm.mu.Unlock()
		return nil
	}

	if cached == nil {
		sm.mu.Unlock()
		return nil
	}
	id := cached.ID
	sm.mu.Unlock()

	_, err := sm.Load(ctx, id)
	return err
}

// replaceCopy swaps the matching instance in b, or appends when the
// view had not seen the copy yet.
func replaceCopy(b *Book, copy BookCopy) {
	for i := range b.Instances {
		if b.Instances[i].ID == copy.ID {
			b.Instances[i] = copy
			return
		}
	}
	b.Instances = append(b.Instances, copy)
}

// isDuplicateEntry recognizes the server's duplicate-wishlist
// rejection. The service is not pinned down on the exact shape, so
// both a conflict status and an "already exists" validation message
// count.
func isDuplicateEntry(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Kind == KindConflict {
		return true
	}
	if apiErr.Kind == KindValidation {
		msg := strings.ToLower(apiErr.Message)
		return strings.Contains(msg, "already") || strings.Contains(msg, "exist")
	}
	return false
}
