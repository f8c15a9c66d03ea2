package secrets

import "context"

// LockableStore wraps another Store and can simulate a locked vault —
// every method returns ErrLocked while Locked is true. Used to exercise
// Secret Sync's "vault is locked → push an empty payload" behavior
// without a real vault dependency.
type LockableStore struct {
	Inner  Store
	Locked bool
}

func (l *LockableStore) List(ctx context.Context) ([]Secret, error) {
	if l.Locked {
		return nil, ErrLocked
	}
	return l.Inner.List(ctx)
}

func (l *LockableStore) Get(ctx context.Context, name string) (Secret, error) {
	if l.Locked {
		return Secret{}, ErrLocked
	}
	return l.Inner.Get(ctx, name)
}

func (l *LockableStore) Set(ctx context.Context, s Secret) error {
	if l.Locked {
		return ErrLocked
	}
	return l.Inner.Set(ctx, s)
}

func (l *LockableStore) Destroy(ctx context.Context, name string) error {
	if l.Locked {
		return ErrLocked
	}
	return l.Inner.Destroy(ctx, name)
}
