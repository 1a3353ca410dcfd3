package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSignHMACDeterministic(t *testing.T) {
	body := []byte(`{"event":"form.submitted","data":{"formId":"f1"}}`)
	a := SignHMAC("abc", body)
	b := SignHMAC("abc", append([]byte(nil), body...))
	if a != b {
		t.Fatalf("signatures differ: %s vs %s", a, b)
	}
	mac := hmac.New(sha256.New, []byte("abc"))
	mac.Write(body)
	if want := hex.EncodeToString(mac.Sum(nil)); a != want {
		t.Fatalf("got %s want %s", a, want)
	}
	if SignHMAC("abd", body) == a {
		t.Fatal("different secrets must produce different signatures")
	}
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"x":1}`)
	sig := SignHMAC("secret", body)
	if !VerifyHMAC("secret", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifyHMAC("secret", []byte(`{"x":2}`), sig) {
		t.Fatal("signature over other bytes accepted")
	}
	if VerifyHMAC("secret", body, "not-hex") {
		t.Fatal("malformed signature accepted")
	}
}

func TestNewSecret(t *testing.T) {
	a, err := NewSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewSecret()
	if len(a) != 64 || a == b {
		t.Fatalf("unexpected secrets %q %q", a, b)
	}
}
