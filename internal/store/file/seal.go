package file

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// The current supported version of the sealed envelope.
	sealFormatVersion = 1

	maxScryptN = 1 << 20
	maxScryptR = 32
	maxScryptP = 16
)

// Envelope fields. Numbers 1..3 are avoided (except version) so that a
// sealed file never decodes as a plain record.
const (
	fieldSealVersion protowire.Number = 1
	fieldSealSalt    protowire.Number = 16
	fieldSealN       protowire.Number = 17
	fieldSealR       protowire.Number = 18
	fieldSealP       protowire.Number = 19
	fieldSealNonce   protowire.Number = 20
	fieldSealCipher  protowire.Number = 21
)

var (
	// Returned when the passphrase is incorrect or the ciphertext has been modified / corrupted.
	errWrongPassphrase = errors.New("wrong passphrase or corrupted database")
	errNotSealed       = errors.New("file is not a sealed database")
)

// Tunables for scrypt key derivation.
func scryptParamsDefault() (n, r, p int) { return 1 << 15, 8, 1 }

// sealer encrypts records with a key derived from a passphrase.
// The derived key is cached per salt so that only the first save or load
// pays for scrypt.
type sealer struct {
	passphrase []byte
	n, r, p    int

	salt []byte
	key  []byte
}

func newSealer(passphrase string) *sealer {
	n, r, p := scryptParamsDefault()
	return &sealer{passphrase: []byte(passphrase), n: n, r: r, p: p}
}

type envelope struct {
	version uint64
	salt    []byte
	n, r, p int
	nonce   []byte
	cipher  []byte
}

// header is the authenticated prefix of the envelope.
func (e *envelope) header() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSealVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, e.version)
	b = protowire.AppendTag(b, fieldSealSalt, protowire.BytesType)
	b = protowire.AppendBytes(b, e.salt)
	b = protowire.AppendTag(b, fieldSealN, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.n))
	b = protowire.AppendTag(b, fieldSealR, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.r))
	b = protowire.AppendTag(b, fieldSealP, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.p))
	return b
}

func (e *envelope) marshal() []byte {
	b := e.header()
	b = protowire.AppendTag(b, fieldSealNonce, protowire.BytesType)
	b = protowire.AppendBytes(b, e.nonce)
	b = protowire.AppendTag(b, fieldSealCipher, protowire.BytesType)
	b = protowire.AppendBytes(b, e.cipher)
	return b
}

func parseEnvelope(b []byte) (*envelope, error) {
	e := &envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if v > maxScryptN {
				return nil, fmt.Errorf("envelope field %d out of range", num)
			}
			switch num {
			case fieldSealVersion:
				e.version = v
			case fieldSealN:
				e.n = int(v)
			case fieldSealR:
				e.r = int(v)
			case fieldSealP:
				e.p = int(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldSealSalt:
				e.salt = v
			case fieldSealNonce:
				e.nonce = v
			case fieldSealCipher:
				e.cipher = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if e.version == 0 || e.salt == nil || e.nonce == nil || e.cipher == nil {
		return nil, errNotSealed
	}
	if e.version > sealFormatVersion {
		return nil, fmt.Errorf("unsupported sealed format version %d", e.version)
	}
	if err := checkScryptParams(e.n, e.r, e.p); err != nil {
		return nil, err
	}
	return e, nil
}

// checkScryptParams bounds the cost read from an unauthenticated header
// before any key derivation runs.
func checkScryptParams(n, r, p int) error {
	if n < 2 || n > maxScryptN || n&(n-1) != 0 {
		return fmt.Errorf("%w: scrypt N=%d out of range", errNotSealed, n)
	}
	if r < 1 || r > maxScryptR {
		return fmt.Errorf("%w: scrypt r=%d out of range", errNotSealed, r)
	}
	if p < 1 || p > maxScryptP {
		return fmt.Errorf("%w: scrypt p=%d out of range", errNotSealed, p)
	}
	return nil
}

func (s *sealer) deriveKey(salt []byte, n, r, p int) ([]byte, error) {
	return scrypt.Key(s.passphrase, salt, n, r, p, chacha20poly1305.KeySize)
}

// seal encrypts plain under the cached key, deriving one with a fresh salt
// on first use.
func (s *sealer) seal(plain []byte) ([]byte, error) {
	if s.key == nil {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		key, err := s.deriveKey(salt, s.n, s.r, s.p)
		if err != nil {
			return nil, err
		}
		s.salt, s.key = salt, key
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	env := &envelope{
		version: sealFormatVersion,
		salt:    s.salt,
		n:       s.n,
		r:       s.r,
		p:       s.p,
		nonce:   make([]byte, aead.NonceSize()),
	}
	if _, err := rand.Read(env.nonce); err != nil {
		return nil, err
	}
	env.cipher = aead.Seal(nil, env.nonce, plain, env.header())
	return env.marshal(), nil
}

// open decrypts a sealed envelope. On success the envelope's key becomes
// the cached key, so later saves keep the same salt.
func (s *sealer) open(b []byte) ([]byte, error) {
	env, err := parseEnvelope(b)
	if err != nil {
		return nil, err
	}

	key := s.key
	if key == nil || !bytes.Equal(env.salt, s.salt) || env.n != s.n || env.r != s.r || env.p != s.p {
		key, err = s.deriveKey(env.salt, env.n, env.r, env.p)
		if err != nil {
			return nil, err
		}
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(env.nonce) != aead.NonceSize() {
		return nil, errWrongPassphrase
	}
	plain, err := aead.Open(nil, env.nonce, env.cipher, env.header())
	if err != nil {
		return nil, errWrongPassphrase
	}

	s.salt, s.key = bytes.Clone(env.salt), key
	s.n, s.r, s.p = env.n, env.r, env.p
	return plain, nil
}
