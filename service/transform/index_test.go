package transform

import (
	"testing"

	"github.com/tweag/asset-relay/integrity"
)

func TestIndexStoreAndLoad(t *testing.T) {
	x := NewIndex()

	d := integrity.SHA256.DigestString("v1|src=public/a.png|w=100|h=-|fit=cover|format=webp")
	if _, ok := x.Get(d, integrity.SHA256); ok {
		t.Fatal("index should be empty")
	}

	x.Put(d, integrity.SHA256, 2727)
	size, ok := x.Get(d, integrity.SHA256)
	if !ok {
		t.Fatal("index should contain the entry")
	}
	if size != 2727 {
		t.Fatalf("expected size 2727, got %d", size)
	}

	// the size of the hashed input is not part of the key
	parsed, err := integrity.DigestFromHex(d.Hex(integrity.SHA256), 0, integrity.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := x.Get(parsed, integrity.SHA256); !ok {
		t.Fatal("lookup by parsed hex should succeed")
	}

	// check that the identifier is used
	hash := d.Hash()
	blake := integrity.NewDigest(hash[:32], 0, integrity.Blake3)
	if _, ok := x.Get(blake, integrity.Blake3); ok {
		t.Fatal("used wrong algorithm but got a result")
	}

	if !x.Delete(d, integrity.SHA256) {
		t.Fatal("delete should report the removed entry")
	}
	if x.Delete(d, integrity.SHA256) {
		t.Fatal("second delete should be a no-op")
	}
	if x.Len() != 0 {
		t.Fatalf("expected empty index, got %d entries", x.Len())
	}
}

func TestParseEntryName(t *testing.T) {
	hex, format, ok := parseEntryName("abcdef.webp")
	if !ok || hex != "abcdef" || format != "webp" {
		t.Fatalf("unexpected parse result: %q %q %v", hex, format, ok)
	}
	for _, name := range []string{"staging", ".webp", "abc.", "abc.tar.gz"} {
		if _, _, ok := parseEntryName(name); ok {
			t.Fatalf("%q should not parse", name)
		}
	}
}
