package hasher

import "testing"

func TestBcrypt_HashAndVerify(t *testing.T) {
	h := NewBcrypt()

	digest, err := h.Hash("secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if digest == "secret" {
		t.Fatalf("digest must not equal the plain password")
	}

	if !h.Verify(digest, "secret") {
		t.Fatalf("Verify must accept the correct password")
	}
	if h.Verify(digest, "wrong") {
		t.Fatalf("Verify must reject a wrong password")
	}
}

func TestBcrypt_DistinctDigests(t *testing.T) {
	h := NewBcrypt()

	a, err := h.Hash("secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := h.Hash("secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	// bcrypt солит каждый дайджест, поэтому повторное хеширование даёт другой результат.
	if a == b {
		t.Fatalf("two digests of the same password must differ")
	}
}
