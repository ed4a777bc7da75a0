package auth

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/andrebq/doorman/credstore"
	"github.com/andrebq/doorman/internal/logutil"
)

type (
	// CredentialStore is the subset of credstore.Store used by the Authenticator
	CredentialStore interface {
		CreateUser(ctx context.Context, identifier, passwordHash string) (int64, error)
		FindByIdentifier(ctx context.Context, identifier string) (credstore.User, bool, error)
	}

	// Principal is who the caller proved to be
	Principal struct {
		UserID     int64
		Identifier string
	}

	Authenticator struct {
		store     CredentialStore
		primary   Hasher
		verifiers []Hasher
		pepper    KeyFn

		dummyOnce sync.Once
		dummy     string
		dummyErr  error
	}

	Option func(*Authenticator)
)

// WithHasher changes the scheme used to hash new passwords,
// previously stored hashes are still verified.
func WithHasher(h Hasher) Option {
	return func(a *Authenticator) {
		a.primary = h
	}
}

func WithPepper(keyfn KeyFn) Option {
	return func(a *Authenticator) {
		a.pepper = keyfn
	}
}

func New(store CredentialStore, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:   store,
		primary: NewArgon2Hasher(DefaultArgon2Params),
	}
	for _, o := range opts {
		o(a)
	}
	a.verifiers = []Hasher{a.primary, NewArgon2Hasher(DefaultArgon2Params), NewBcryptHasher(0)}
	return a
}

// Register a new user, passwd is never stored
func (a *Authenticator) Register(ctx context.Context, identifier string, passwd PlainText) error {
	if err := validIdentifier(identifier); err != nil {
		return err
	}
	if len(bytes.TrimSpace(passwd)) == 0 {
		return InvalidInput{Field: "password", Reason: "cannot be empty"}
	}
	encoded, err := a.hash(ctx, passwd)
	if err != nil {
		var invalid InvalidInput
		if errors.As(err, &invalid) {
			return invalid
		}
		return Internal{Op: "hash password", cause: err}
	}
	_, err = a.store.CreateUser(ctx, identifier, encoded)
	if errors.As(err, &credstore.DuplicateIdentifier{}) {
		return AlreadyExists{Identifier: identifier}
	} else if err != nil {
		return Internal{Op: "create user", cause: err}
	}
	return nil
}

// Login checks if passwd matches the one registered for identifier.
//
// Unknown identifiers and wrong passwords produce the same error, empty
// values are just credentials that never match. Callers are expected
// to reject fields missing from the request before calling Login.
func (a *Authenticator) Login(ctx context.Context, identifier string, passwd PlainText) (Principal, error) {
	log := logutil.GetOrDefault(ctx)
	user, found, err := a.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		return Principal{}, Internal{Op: "lookup user", cause: err}
	}
	if !found {
		// burn the same amount of cpu as a real verification
		a.verifyDummy(ctx, passwd)
		return Principal{}, InvalidCredentials{}
	}
	ok, err := a.verify(ctx, user.PasswordHash, passwd)
	if err != nil {
		var malformed MalformedHash
		if errors.As(err, &malformed) {
			log.Error().Int64("user_id", user.ID).Str("scheme", malformed.Scheme).Msg("Stored password hash cannot be decoded")
			return Principal{}, InvalidCredentials{}
		}
		return Principal{}, Internal{Op: "verify password", cause: err}
	}
	if !ok {
		return Principal{}, InvalidCredentials{}
	}
	return Principal{UserID: user.ID, Identifier: user.Identifier}, nil
}

func (a *Authenticator) hash(ctx context.Context, passwd PlainText) (string, error) {
	peppered, err := applyPepper(ctx, a.pepper, passwd)
	if err != nil {
		return "", err
	}
	return a.primary.Hash(peppered)
}

func (a *Authenticator) verify(ctx context.Context, encoded string, passwd PlainText) (bool, error) {
	peppered, err := applyPepper(ctx, a.pepper, passwd)
	if err != nil {
		return false, err
	}
	for _, h := range a.verifiers {
		if h.Recognizes(encoded) {
			return h.Verify(encoded, peppered)
		}
	}
	return false, MalformedHash{Scheme: "unknown"}
}

func (a *Authenticator) verifyDummy(ctx context.Context, passwd PlainText) {
	a.dummyOnce.Do(func() {
		a.dummy, a.dummyErr = a.primary.Hash(PlainText("doorman does not know this user"))
	})
	if a.dummyErr != nil {
		return
	}
	a.verify(ctx, a.dummy, passwd)
}

func validIdentifier(identifier string) error {
	switch {
	case len(strings.TrimSpace(identifier)) == 0:
		return InvalidInput{Field: "identifier", Reason: "cannot be empty"}
	case !utf8.ValidString(identifier):
		return InvalidInput{Field: "identifier", Reason: "must be valid utf-8"}
	}
	return nil
}
