package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection   = "idempotency_keys"
	defaultMaxAttempts  = 5
	defaultCleanupBatch = 100
)

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts configures transaction retry attempts.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore implements Store on top of Cloud Firestore, using
// transactions so two racing requests cannot both win the reservation.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = normalizeWindow(now, ttl)
	ref := s.doc(key)

	var result Reservation
	err := s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, found, err := loadKeyDoc(tx, ref)
		if err != nil {
			return err
		}

		// A missing or expired record is claimed in place.
		if !found || doc.expired(now) {
			claimed := newPendingDoc(key, fingerprint, now, ttl)
			if err := tx.Set(ref, claimed); err != nil {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: claimed.record()}
			return nil
		}

		if doc.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		result = Reservation{State: doc.reservationState(), Record: doc.record()}
		return nil
	})

	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = normalizeWindow(now, ttl)
	ref := s.doc(key)
	captured := Response{Status: resp.Status, Headers: resp.Headers}
	if len(resp.Body) > 0 {
		captured.Body = append([]byte(nil), resp.Body...)
	}

	return s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, found, err := loadKeyDoc(tx, ref)
		if err != nil {
			return err
		}
		switch {
		case !found:
			doc = keyDoc{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		case doc.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		case doc.CreatedAt.IsZero():
			doc.CreatedAt = now
		}

		doc.Status = string(StatusCompleted)
		doc.ResponseStatus = captured.Status
		doc.ResponseHeaders = storableHeaders(captured.Headers)
		doc.ResponseBody = captured.Body
		doc.UpdatedAt = now
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	})
}

// CleanupExpired removes expired idempotency records up to limit.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupBatch
	}

	stale := s.client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit)
	docs, err := stale.Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Release removes the reservation so callers may retry.
func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) runTx(ctx context.Context, fn func(context.Context, *firestore.Transaction) error) error {
	attempts := s.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return s.client.RunTransaction(ctx, fn, firestore.MaxAttempts(attempts))
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(docID(key))
}

func loadKeyDoc(tx *firestore.Transaction, ref *firestore.DocumentRef) (keyDoc, bool, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return keyDoc{}, false, nil
	}
	if err != nil {
		return keyDoc{}, false, err
	}

	var doc keyDoc
	if err := snap.DataTo(&doc); err != nil {
		return keyDoc{}, false, err
	}
	return doc, true, nil
}

type keyDoc struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func newPendingDoc(key, fingerprint string, now time.Time, ttl time.Duration) keyDoc {
	return keyDoc{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      string(StatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (d keyDoc) expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

func (d keyDoc) reservationState() ReservationState {
	if d.Status == string(StatusCompleted) {
		return ReservationStateCompleted
	}
	return ReservationStatePending
}

func (d keyDoc) record() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
