package security

import (
	"testing"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4)
	password := []byte("Secret-Passw0rd!")
	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" || hash == string(password) {
		t.Fatal("Hash returned empty or plaintext")
	}
	if err := h.Compare(hash, password); err != nil {
		t.Fatalf("Compare: %v", err)
	}
}

func TestHasher_Matches(t *testing.T) {
	h := NewHasher(4)
	hash, _ := h.Hash([]byte("Secret-Passw0rd!"))

	ok, err := h.Matches(hash, []byte("Secret-Passw0rd!"))
	if err != nil || !ok {
		t.Fatalf("Matches(correct) = %v, %v; want true, nil", ok, err)
	}
	ok, err = h.Matches(hash, []byte("wrong"))
	if err != nil || ok {
		t.Fatalf("Matches(wrong) = %v, %v; want false, nil", ok, err)
	}
	if _, err := h.Matches("not-a-bcrypt-hash", []byte("x")); err == nil {
		t.Fatal("Matches with malformed hash should return error")
	}
}

func TestHasher_SaltedHashesDiffer(t *testing.T) {
	h := NewHasher(4)
	a, _ := h.Hash([]byte("same"))
	b, _ := h.Hash([]byte("same"))
	if a == b {
		t.Error("two hashes of the same password should differ (salted)")
	}
}

func TestHasher_Cost(t *testing.T) {
	if h := NewHasher(12); h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	if h := NewHasher(0); h.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h.Cost)
	}
	if h := NewHasher(2); h.Cost != 4 {
		t.Errorf("cost 2 should be clamped to 4, got %d", h.Cost)
	}
}

func TestHasher_SimulateCompare(t *testing.T) {
	h := NewHasher(4)
	h.SimulateCompare([]byte("anything"))
	h.SimulateCompare([]byte("again"))
	if len(h.dummy) == 0 {
		t.Error("dummy hash should be generated on first use")
	}
}
