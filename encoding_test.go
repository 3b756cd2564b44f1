package rmsync_test

import (
	"encoding/json"
	"net/netip"
	"testing"

	. "github.com/puzpuzpuz/rmsync"
)

type level int8

func TestMarshalKey(t *testing.T) {
	if s, err := MarshalKey("foo"); err != nil || s != "foo" {
		t.Fatalf("unexpected string key: %q, %v", s, err)
	}
	if s, err := MarshalKey(-42); err != nil || s != "-42" {
		t.Fatalf("unexpected int key: %q, %v", s, err)
	}
	if s, err := MarshalKey(uint64(1 << 63)); err != nil || s != "9223372036854775808" {
		t.Fatalf("unexpected uint key: %q, %v", s, err)
	}
	if s, err := MarshalKey(level(3)); err != nil || s != "3" {
		t.Fatalf("unexpected named int key: %q, %v", s, err)
	}
	addr := netip.MustParseAddr("10.0.0.1")
	if s, err := MarshalKey(addr); err != nil || s != "10.0.0.1" {
		t.Fatalf("unexpected text marshaler key: %q, %v", s, err)
	}
	if _, err := MarshalKey(1.5); err == nil {
		t.Fatal("error was expected for float key")
	}
	if _, err := MarshalKey(struct{ a int }{1}); err == nil {
		t.Fatal("error was expected for struct key")
	}
}

func TestOrderedMapJSON_TextMarshalerKeys(t *testing.T) {
	m := NewOrderedMapFunc[netip.Addr, int](func(a, b netip.Addr) bool {
		return a.Less(b)
	})
	m.Store(netip.MustParseAddr("10.0.0.2"), 2)
	m.Store(netip.MustParseAddr("10.0.0.1"), 1)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	if want := `{"10.0.0.1":1,"10.0.0.2":2}`; string(data) != want {
		t.Fatalf("unexpected JSON: %s, want: %s", data, want)
	}
	if err := json.Unmarshal([]byte(`{"10.0.0.3":3}`), m); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if v, ok := m.Load(netip.MustParseAddr("10.0.0.3")); !ok || v != 3 {
		t.Fatalf("unexpected value: %v, %v", v, ok)
	}
	if m.Size() != 1 {
		t.Fatalf("decoding was expected to replace the contents: %d", m.Size())
	}
}

func TestOrderedMapJSON_UnsupportedKey(t *testing.T) {
	m := NewOrderedMap[float64, int]()
	m.Store(1.5, 1)
	if _, err := json.Marshal(m); err == nil {
		t.Fatal("error was expected for float keys")
	}
}
