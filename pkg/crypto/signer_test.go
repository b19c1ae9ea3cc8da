package crypto

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestSignAndRecover(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	hash := ethcrypto.Keccak256([]byte("resolve batch 0xabc"))
	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	recovered, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Fatal("verify rejected a valid signature")
	}

	other, _ := GenerateKey()
	if VerifySignature(other.Address(), hash, sig) {
		t.Fatal("verify accepted a signature from the wrong key")
	}
}

func TestSignRejectsBadHashLength(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Fatal("short hash accepted")
	}
}

func TestFromPrivateKeyHexRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := FromPrivateKeyHex(signer.PrivateKeyHex())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Address() != signer.Address() {
		t.Fatalf("address changed across round trip")
	}

	// 0x prefix is accepted too.
	restored, err = FromPrivateKeyHex("0x" + signer.PrivateKeyHex())
	if err != nil {
		t.Fatalf("restore with prefix: %v", err)
	}
	if restored.Address() != signer.Address() {
		t.Fatalf("prefixed restore changed address")
	}

	if _, err := FromPrivateKeyHex("not-a-key"); err == nil {
		t.Fatal("garbage key accepted")
	}
}
