package crypto

import (
	"fmt"

	"github.com/jmcleod/panelgate/internal/util"
)

// Argon2idParams configures Argon2id key derivation.
type Argon2idParams = util.Argon2idParams

// DefaultSalt is used when no salt is configured. Deployments that share a
// master secret across installations should set their own salt.
const DefaultSalt = "panelgate:master-key:v1"

// KDF names accepted by WithKDF.
const (
	KDFPBKDF2   = "pbkdf2"
	KDFArgon2id = "argon2id"
)

// Option is a functional option for New.
type Option func(*options)

type options struct {
	kdf        string
	salt       []byte
	iterations int
	argon      Argon2idParams
}

func defaultOptions() options {
	return options{
		kdf:        KDFPBKDF2,
		salt:       []byte(DefaultSalt),
		iterations: util.DefaultPBKDF2Iterations,
		argon:      util.DefaultArgon2idParams(),
	}
}

// WithSalt sets the key-derivation salt.
func WithSalt(salt []byte) Option {
	return func(o *options) {
		if len(salt) > 0 {
			o.salt = util.CopyBytes(salt)
		}
	}
}

// WithIterations sets the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(o *options) {
		o.iterations = n
	}
}

// WithArgon2id switches the master key derivation to Argon2id.
func WithArgon2id(params Argon2idParams) Option {
	return func(o *options) {
		o.kdf = KDFArgon2id
		o.argon = params
	}
}

// WithKDF selects the derivation function by name.
func WithKDF(name string) Option {
	return func(o *options) {
		if name != "" {
			o.kdf = name
		}
	}
}

func (o options) derive(secret string) ([]byte, error) {
	switch o.kdf {
	case KDFPBKDF2:
		return util.DerivePBKDF2Key(secret, o.salt, o.iterations)
	case KDFArgon2id:
		return util.DeriveArgon2idKey(secret, o.salt, o.argon)
	default:
		return nil, fmt.Errorf("unsupported kdf %q", o.kdf)
	}
}
