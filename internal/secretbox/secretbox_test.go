package secretbox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	box, err := New(key)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	plaintext := []byte("hello, is this role still open?")
	sealed, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("sealed output contains plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	keyA, _ := NewKey()
	keyB, _ := NewKey()
	boxA, _ := New(keyA)
	boxB, _ := New(keyB)

	sealed, err := boxA.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := boxB.Open(sealed); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, _ := NewKey()
	box, _ := New(key)

	sealed, _ := box.Seal([]byte("secret"))
	sealed[len(sealed)-1] ^= 0x01

	if _, err := box.Open(sealed); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestOpenRejectsShortInput(t *testing.T) {
	key, _ := NewKey()
	box, _ := New(key)

	if _, err := box.Open([]byte{1, 2, 3}); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestNewRejectsBadKeySize(t *testing.T) {
	if _, err := New([]byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestNewFromBase64(t *testing.T) {
	key, _ := NewKey()
	box, err := NewFromBase64(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("new from base64: %v", err)
	}
	sealed, _ := box.Seal([]byte("x"))
	if _, err := box.Open(sealed); err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := NewFromBase64("%%%not-base64%%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}
