package seal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func TestPassphraseDerivationIsStable(t *testing.T) {
	a, err := RecipientFromPassphrase("correct horse battery staple")
	if err != nil {
		t.Fatalf("RecipientFromPassphrase: %v", err)
	}
	b, err := RecipientFromPassphrase("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if a != b || !strings.HasPrefix(a, "age1") {
		t.Fatalf("unstable or malformed recipient: %q vs %q", a, b)
	}
	id, err := IdentityFromPassphrase("correct horse battery staple")
	if err != nil {
		t.Fatalf("IdentityFromPassphrase: %v", err)
	}
	if id.Recipient().String() != a {
		t.Fatalf("identity recipient %s does not match %s", id.Recipient(), a)
	}
}

func TestSealAndOpenWithPassphrase(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "credentials.json")
	sealed := plain + Ext
	opened := filepath.Join(dir, "opened.json")
	if err := os.WriteFile(plain, []byte(`[{"id":"c1","data":"secret"}]`), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := New(Options{Passphrase: "hunter2-but-longer"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SealFile(plain, sealed); err != nil {
		t.Fatalf("SealFile: %v", err)
	}
	data, _ := os.ReadFile(sealed)
	if strings.Contains(string(data), "secret") {
		t.Fatal("sealed file contains plaintext")
	}
	if err := s.OpenFile(sealed, opened); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	got, _ := os.ReadFile(opened)
	if string(got) != `[{"id":"c1","data":"secret"}]` {
		t.Fatalf("round trip mismatch: %s", got)
	}

	wrong, err := New(Options{Passphrase: "another passphrase"})
	if err != nil {
		t.Fatal(err)
	}
	if err := wrong.OpenFile(sealed, filepath.Join(dir, "x.json")); err == nil {
		t.Fatal("expected failure with the wrong passphrase")
	}
	if _, err := os.Stat(filepath.Join(dir, "x.json")); !os.IsNotExist(err) {
		t.Fatal("failed open must not leave output")
	}
}

func TestRecipientAndIdentityFiles(t *testing.T) {
	dir := t.TempDir()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	recFile := filepath.Join(dir, "recipients.txt")
	idFile := filepath.Join(dir, "identity.txt")
	if err := os.WriteFile(recFile, []byte("# snapshot key\n"+id.Recipient().String()+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(idFile, []byte(id.String()+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	sealer, err := New(Options{RecipientFile: recFile, Recipients: []string{id.Recipient().String()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !sealer.CanSeal() || sealer.CanOpen() {
		t.Fatal("recipient-only sealer should seal but not open")
	}
	if len(sealer.recipients) != 1 {
		t.Fatalf("duplicate recipients not collapsed: %d", len(sealer.recipients))
	}

	src := filepath.Join(dir, "w.json")
	if err := os.WriteFile(src, []byte("[]"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := sealer.SealFile(src, src+Ext); err != nil {
		t.Fatal(err)
	}
	opener, err := New(Options{IdentityFile: idFile})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := opener.OpenFile(src+Ext, filepath.Join(dir, "back.json")); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
}

func TestParseRecipientRejectsGarbage(t *testing.T) {
	if _, err := ParseRecipient("not-a-key"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New(Options{}); err != nil {
		t.Fatalf("empty options should be valid: %v", err)
	}
	var s *Sealer
	if s.CanSeal() || s.CanOpen() {
		t.Fatal("nil sealer must report no capabilities")
	}
}
