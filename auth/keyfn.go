package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
)

const (
	PepperEnvVar = "DOORMAN_AUTH_PEPPER"
)

type (
	PlainText []byte
	Key       [32]byte

	KeyFn func(context.Context) (*Key, error)
)

func (p PlainText) Zero() {
	for i := range p {
		p[i] = 0
	}
}

func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// KeyFNFromEnv reads a base64 encoded 32 byte key from varname and removes
// it from the environment. An unset variable returns a nil KeyFn, which
// disables the pepper.
func KeyFNFromEnv(varname string, getfn func(string) string, setfn func(string, string) error) (KeyFn, error) {
	if getfn == nil {
		getfn = os.Getenv
	}
	if setfn == nil {
		setfn = os.Setenv
	}
	val := getfn(varname)
	if len(val) == 0 {
		return nil, nil
	}
	setfn(varname, "")
	var rootKey Key
	buf, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return nil, fmt.Errorf("auth: cannot decode string to valid key, cause %v", err)
	} else if len(buf) != len(rootKey) {
		return nil, fmt.Errorf("auth: decoded key has %v bytes expecting %v bytes", len(buf), len(rootKey))
	}
	copy(rootKey[:], buf)
	return func(_ context.Context) (*Key, error) {
		var k Key
		copy(k[:], rootKey[:])
		return &k, nil
	}, nil
}

func applyPepper(ctx context.Context, keyfn KeyFn, passwd PlainText) (PlainText, error) {
	if keyfn == nil {
		return passwd, nil
	}
	k, err := keyfn(ctx)
	if err != nil {
		return nil, err
	}
	defer k.Zero()
	mac := hmac.New(sha256.New, k[:])
	mac.Write(passwd)
	return PlainText(mac.Sum(nil)), nil
}
