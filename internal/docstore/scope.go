package docstore

import "context"

// Scope is a session-isolated view of a Store. Documents owned by other
// sessions are reported as not found.
type Scope struct {
	store     *Store
	sessionID string
}

// SessionID returns the session the scope is bound to.
func (sc *Scope) SessionID() string { return sc.sessionID }

// Put stores doc under the scope's session.
func (sc *Scope) Put(ctx context.Context, doc Document) error {
	if doc.SessionID != "" && doc.SessionID != sc.sessionID {
		return ErrSessionMismatch
	}
	doc.SessionID = sc.sessionID
	return sc.store.Put(ctx, doc)
}

// Get returns the document if it belongs to the scope's session.
func (sc *Scope) Get(id string) (Document, bool) {
	doc, ok := sc.store.Get(id)
	if !ok || doc.SessionID != sc.sessionID {
		return Document{}, false
	}
	return doc, true
}

// Update mutates a document owned by the scope's session.
func (sc *Scope) Update(ctx context.Context, id string, fn func(*Document) error) error {
	return sc.store.Update(ctx, id, func(doc *Document) error {
		if doc.SessionID != sc.sessionID {
			return ErrNotFound
		}
		return fn(doc)
	})
}

// Delete removes a document owned by the scope's session.
func (sc *Scope) Delete(ctx context.Context, id string) error {
	if _, ok := sc.Get(id); !ok {
		return nil
	}
	return sc.store.Delete(ctx, id)
}

// List returns the scope's documents.
func (sc *Scope) List() []Document {
	return sc.store.ListBySession(sc.sessionID)
}

// Clear removes every document in the scope.
func (sc *Scope) Clear(ctx context.Context) (int, error) {
	return sc.store.DeleteSession(ctx, sc.sessionID)
}
