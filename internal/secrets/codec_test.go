package secrets

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func TestBase32RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n <= 64; n++ {
		b := make([]byte, n)
		rng.Read(b)

		decoded := Base32Decode(Base32Encode(b))
		if n == 0 {
			if len(decoded) != 0 {
				t.Fatalf("length %d: expected empty decode, got %v", n, decoded)
			}
			continue
		}
		if !bytes.Equal(decoded, b) {
			t.Fatalf("length %d: round trip mismatch\n in: %v\nout: %v", n, b, decoded)
		}
	}
}

func TestBase32EncodeKnownValue(t *testing.T) {
	// RFC 4648 test vectors, padding stripped.
	cases := map[string]string{
		"":       "",
		"f":      "MY",
		"fo":     "MZXQ",
		"foo":    "MZXW6",
		"foob":   "MZXW6YQ",
		"fooba":  "MZXW6YTB",
		"foobar": "MZXW6YTBOI",
	}
	for in, want := range cases {
		if got := Base32Encode([]byte(in)); got != want {
			t.Errorf("Base32Encode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBase32DecodeLenient(t *testing.T) {
	want := []byte("foobar")

	cases := []string{
		"MZXW6YTBOI",
		"mzxw6ytboi",
		"MZXW6YTBOI======",
		"MZXW6 YTB-OI",
		"MZXW6!YTBOI??",
	}
	for _, in := range cases {
		if got := Base32Decode(in); !bytes.Equal(got, want) {
			t.Errorf("Base32Decode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	for _, plaintext := range []string{"", "a", "webhook-secret-123", strings.Repeat("x", 200)} {
		enc, err := codec.EncryptSecret(plaintext)
		if err != nil {
			t.Fatalf("EncryptSecret(%q): %v", plaintext, err)
		}
		if !strings.HasPrefix(enc, "v1:") {
			t.Fatalf("missing version prefix: %q", enc)
		}

		dec, ok := codec.DecryptSecret(enc)
		if !ok || dec != plaintext {
			t.Fatalf("DecryptSecret round trip: got (%q, %v), want (%q, true)", dec, ok, plaintext)
		}
	}
}

func TestCodecIVUniquePerCall(t *testing.T) {
	codec, err := NewCodec("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	a, _ := codec.EncryptSecret("same input")
	b, _ := codec.EncryptSecret("same input")
	if a == b {
		t.Fatal("two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestDecryptSecretRejectsBadInput(t *testing.T) {
	codec, err := NewCodec("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	valid, _ := codec.EncryptSecret("ok")
	parts := strings.SplitN(valid, ":", 3)

	cases := []string{
		"",
		"not-encrypted",
		"v2:" + parts[1] + ":" + parts[2],
		"v1:" + parts[1],
		"v1:zz:" + parts[2],
		"v1:" + parts[1] + ":abc", // not block aligned
	}
	for _, in := range cases {
		if got, ok := codec.DecryptSecret(in); ok {
			t.Errorf("DecryptSecret(%q) unexpectedly succeeded with %q", in, got)
		}
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	a, _ := NewCodec("key-a")
	b, _ := NewCodec("key-b")

	enc, err := a.EncryptSecret("partner-credential")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if got, ok := b.DecryptSecret(enc); ok && got == "partner-credential" {
		t.Fatal("decryption with a different master key recovered the plaintext")
	}
}

func TestSignPayloadDeterministic(t *testing.T) {
	sig1 := SignPayload("s3cret", []byte(`{"event":"lead.created"}`))
	sig2 := SignPayload("s3cret", []byte(`{"event":"lead.created"}`))
	if sig1 != sig2 {
		t.Fatal("signature not deterministic")
	}
	if sig1 == SignPayload("other", []byte(`{"event":"lead.created"}`)) {
		t.Fatal("different secrets produced the same signature")
	}
	if len(sig1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig1))
	}
}
