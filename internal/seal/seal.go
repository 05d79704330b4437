// Package seal encrypts pre-restore snapshot artifacts with age so that
// decrypted credential exports never sit in plain text on the host.
package seal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/scrypt"

	"github.com/tis24dev/flowsave/pkg/bech32"
)

// Ext is appended to sealed artifact names.
const Ext = ".age"

const (
	passphraseSalt = "flowsave/snapshot-passphrase/v1"
	scryptN        = 1 << 15
	scryptR        = 8
	scryptP        = 1
)

// Options lists the key material available to a Sealer. Recipients are
// needed to seal, identities to open; a passphrase provides both.
type Options struct {
	Recipients    []string
	RecipientFile string
	IdentityFile  string
	Passphrase    string
}

// Sealer seals and opens files.
type Sealer struct {
	recipients []age.Recipient
	identities []age.Identity
}

// New resolves opts into parsed recipients and identities.
func New(opts Options) (*Sealer, error) {
	s := &Sealer{}
	values := append([]string(nil), opts.Recipients...)
	if opts.RecipientFile != "" {
		fromFile, err := readRecipientFile(opts.RecipientFile)
		if err != nil {
			return nil, err
		}
		values = append(values, fromFile...)
	}
	for _, v := range dedupe(values) {
		r, err := ParseRecipient(v)
		if err != nil {
			return nil, err
		}
		s.recipients = append(s.recipients, r)
	}

	if opts.IdentityFile != "" {
		ids, err := readIdentityFile(opts.IdentityFile)
		if err != nil {
			return nil, err
		}
		s.identities = append(s.identities, ids...)
	}

	if opts.Passphrase != "" {
		id, err := IdentityFromPassphrase(opts.Passphrase)
		if err != nil {
			return nil, err
		}
		s.identities = append(s.identities, id)
		s.recipients = append(s.recipients, id.Recipient())
	}
	return s, nil
}

// CanSeal reports whether at least one recipient is configured.
func (s *Sealer) CanSeal() bool { return s != nil && len(s.recipients) > 0 }

// CanOpen reports whether at least one identity is configured.
func (s *Sealer) CanOpen() bool { return s != nil && len(s.identities) > 0 }

// ParseRecipient accepts native age recipients (age1...) and SSH public keys.
func ParseRecipient(value string) (age.Recipient, error) {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(value, "age1"):
		return age.ParseX25519Recipient(value)
	case strings.HasPrefix(value, "ssh-"):
		return agessh.ParseRecipient(value)
	}
	return nil, fmt.Errorf("unsupported age recipient %q", value)
}

func readRecipientFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipient file: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recipient file: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("recipient file %s contains no recipients", path)
	}
	return out, nil
}

func readIdentityFile(path string) ([]age.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	if bytes.Contains(data, []byte("PRIVATE KEY")) {
		id, err := agessh.ParseIdentity(data)
		if err != nil {
			return nil, fmt.Errorf("parse SSH identity %s: %w", path, err)
		}
		return []age.Identity{id}, nil
	}
	ids, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return ids, nil
}

func dedupe(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func passphraseScalar(passphrase string) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), []byte(passphraseSalt), scryptN, scryptR, scryptP, curve25519.ScalarSize)
	if err != nil {
		return nil, fmt.Errorf("derive key from passphrase: %w", err)
	}
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
	return key, nil
}

// IdentityFromPassphrase derives a stable X25519 identity from passphrase,
// so the same passphrase always opens snapshots sealed with it.
func IdentityFromPassphrase(passphrase string) (*age.X25519Identity, error) {
	key, err := passphraseScalar(passphrase)
	if err != nil {
		return nil, err
	}
	secret, err := bech32.Encode("AGE-SECRET-KEY-", key)
	if err != nil {
		return nil, fmt.Errorf("encode secret key: %w", err)
	}
	return age.ParseX25519Identity(strings.ToUpper(secret))
}

// RecipientFromPassphrase returns the age1... recipient matching
// IdentityFromPassphrase.
func RecipientFromPassphrase(passphrase string) (string, error) {
	key, err := passphraseScalar(passphrase)
	if err != nil {
		return "", err
	}
	public, err := curve25519.X25519(key, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("derive X25519 public key: %w", err)
	}
	return bech32.Encode("age", public)
}

// SealFile encrypts src into dst.
func (s *Sealer) SealFile(src, dst string) error {
	if !s.CanSeal() {
		return fmt.Errorf("no age recipients configured")
	}
	return transform(src, dst, func(w io.Writer, r io.Reader) error {
		enc, err := age.Encrypt(w, s.recipients...)
		if err != nil {
			return err
		}
		if _, err := io.Copy(enc, r); err != nil {
			return err
		}
		return enc.Close()
	})
}

// OpenFile decrypts src into dst.
func (s *Sealer) OpenFile(src, dst string) error {
	if !s.CanOpen() {
		return fmt.Errorf("no age identities configured")
	}
	return transform(src, dst, func(w io.Writer, r io.Reader) error {
		dec, err := age.Decrypt(r, s.identities...)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, dec)
		return err
	})
}

func transform(src, dst string, fn func(io.Writer, io.Reader) error) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := fn(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%s: %w", filepath.Base(src), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dst)
}
