// internal/membership/memory.go
package membership

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory Store with the same
// compare-and-swap semantics as the postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
	creds map[uuid.UUID]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[uuid.UUID]*User),
		creds: make(map[uuid.UUID]Credential),
	}
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return user.Clone(), nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = NormalizeEmail(email)
	for _, user := range m.users {
		if user.Email == email {
			return user.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if strings.EqualFold(user.Username, username) {
			return user.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Create(_ context.Context, user *User, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
		if strings.EqualFold(existing.Username, user.Username) {
			return ErrDuplicateUsername
		}
	}

	stored := user.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Version = 1
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.users[stored.ID] = stored

	if cred != nil {
		c := *cred
		c.UserID = stored.ID
		m.creds[stored.ID] = c
	}

	*user = *stored.Clone()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != user.Version {
		return ErrVersionConflict
	}
	for id, existing := range m.users {
		if id == user.ID {
			continue
		}
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
		if strings.EqualFold(existing.Username, user.Username) {
			return ErrDuplicateUsername
		}
	}

	stored := user.Clone()
	stored.Version = current.Version + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	m.users[stored.ID] = stored

	*user = *stored.Clone()
	return nil
}

func (m *MemoryStore) GetCredential(_ context.Context, userID uuid.UUID) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cred, nil
}
