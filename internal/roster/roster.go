// Package roster owns the registered-user table: exact-match lookup for the
// scan path and the administrative add/modify/delete operations.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound indicates the registration number is not in the roster.
	ErrNotFound = errors.New("user not registered")
	// ErrDuplicate indicates an add or modify would collide with an
	// existing registration number.
	ErrDuplicate = errors.New("registration number already exists")
	// ErrMissingField indicates a blank field in an add or modify request.
	ErrMissingField = errors.New("all user fields are required")
)

// User is one identity record in the roster.
type User struct {
	RegNo      string `json:"reg_no"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Mobile     string `json:"mobile"`
	BloodGroup string `json:"blood_group"`
	Department string `json:"department"`
	Position   string `json:"position"`
}

// Input carries the administrator-supplied fields for add and modify. The
// registration number is never supplied directly; it is derived.
type Input struct {
	FirstName  string `json:"first_name" binding:"required"`
	LastName   string `json:"last_name" binding:"required"`
	Mobile     string `json:"mobile" binding:"required"`
	BloodGroup string `json:"blood_group" binding:"required"`
	Department string `json:"department" binding:"required"`
	Position   string `json:"position" binding:"required"`
}

// DeriveRegNo builds the registration number for a user created at the given
// time: "<year>-<FirstName>_<LastName>_<Department>".
func DeriveRegNo(in Input, now time.Time) string {
	return fmt.Sprintf("%d-%s_%s_%s", now.Year(), in.FirstName, in.LastName, in.Department)
}

// Store persists roster mutations. Each mutation must be durable before it
// returns; the Roster does not consider a change committed until then.
type Store interface {
	LoadUsers(ctx context.Context) ([]User, error)
	InsertUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, regno string, u User) error
	DeleteUser(ctx context.Context, regno string) error
}

// Roster is the in-memory user table, write-through to its Store. The scan
// path only ever reads it; mutations come from the admin operations.
type Roster struct {
	mu    sync.RWMutex
	store Store
	users []User
	index map[string]int // regno -> position in users
}

// New loads the roster from the store.
func New(ctx context.Context, store Store) (*Roster, error) {
	users, err := store.LoadUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	r := &Roster{store: store, users: users, index: make(map[string]int, len(users))}
	for i, u := range users {
		r.index[u.RegNo] = i
	}
	return r, nil
}

// Find returns the user for a registration number. Lookup is case-sensitive
// exact match.
func (r *Roster) Find(regno string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[regno]
	if !ok {
		return User{}, false
	}
	return r.users[i], true
}

// Users returns a copy of the roster in insertion order.
func (r *Roster) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]User, len(r.users))
	copy(out, r.users)
	return out
}

// Add registers a new user. The registration number is derived from the name,
// department and the current year.
func (r *Roster) Add(ctx context.Context, in Input, now time.Time) (User, error) {
	if err := validate(in); err != nil {
		return User{}, err
	}
	u := fromInput(in, DeriveRegNo(in, now))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[u.RegNo]; exists {
		return User{}, ErrDuplicate
	}
	if err := r.store.InsertUser(ctx, u); err != nil {
		return User{}, fmt.Errorf("persist user: %w", err)
	}
	r.index[u.RegNo] = len(r.users)
	r.users = append(r.users, u)
	return u, nil
}

// Update replaces the identified user's fields. The registration number is
// re-derived, so a name or department change renames the user; the new number
// must not collide with another user.
func (r *Roster) Update(ctx context.Context, regno string, in Input, now time.Time) (User, error) {
	if err := validate(in); err != nil {
		return User{}, err
	}
	u := fromInput(in, DeriveRegNo(in, now))

	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[regno]
	if !ok {
		return User{}, ErrNotFound
	}
	if u.RegNo != regno {
		if _, exists := r.index[u.RegNo]; exists {
			return User{}, ErrDuplicate
		}
	}
	if err := r.store.UpdateUser(ctx, regno, u); err != nil {
		return User{}, fmt.Errorf("persist user: %w", err)
	}
	delete(r.index, regno)
	r.users[i] = u
	r.index[u.RegNo] = i
	return u, nil
}

// Delete removes a user from the roster. Historical attendance rows keep the
// registration number; they are never cascaded.
func (r *Roster) Delete(ctx context.Context, regno string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[regno]
	if !ok {
		return ErrNotFound
	}
	if err := r.store.DeleteUser(ctx, regno); err != nil {
		return fmt.Errorf("persist delete: %w", err)
	}
	r.users = append(r.users[:i], r.users[i+1:]...)
	delete(r.index, regno)
	for j := i; j < len(r.users); j++ {
		r.index[r.users[j].RegNo] = j
	}
	return nil
}

func validate(in Input) error {
	if in.FirstName == "" || in.LastName == "" || in.Mobile == "" ||
		in.BloodGroup == "" || in.Department == "" || in.Position == "" {
		return ErrMissingField
	}
	return nil
}

func fromInput(in Input, regno string) User {
	return User{
		RegNo:      regno,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Mobile:     in.Mobile,
		BloodGroup: in.BloodGroup,
		Department: in.Department,
		Position:   in.Position,
	}
}
