// Package auth registers users and verifies their credentials.
//
// Passwords are never kept anywhere, only an encoded slow hash of them.
// The default scheme is argon2id, every hash carries its own parameters and
// salt so the cost can be raised later without invalidating older entries.
// bcrypt hashes are also understood, either because they were imported from
// somewhere else or because the operator picked bcrypt as the primary scheme.
//
// Optionally, a pepper (a secret key kept outside the database) is mixed into
// the password using HMAC-SHA256 before hashing. Losing the pepper means
// every user must reset their password, so keep it safe.
//
// Login failures never tell the caller if the identifier exists: an unknown
// identifier and a wrong password both produce InvalidCredentials, and both
// paths run one hash verification so they take roughly the same time.
package auth
