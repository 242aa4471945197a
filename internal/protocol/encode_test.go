package protocol

import "testing"

func TestEncodeValueEscapesMinimalSet(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a b", "a b"}, // space is NOT escaped
		{"a\r\nb", "a%0D%0Ab"},
		{"100%", "100%25"},
		{"a+b", "a%2Bb"},
		{"a&b", "a%26b"},
		{"a=b", "a%3Db"},
	}
	for _, c := range cases {
		if got := EncodeValue(c.in); got != c.want {
			t.Errorf("EncodeValue(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	inputs := []string{"plain", "a\r\nb%c+d&e=f", "100%", "", "nothing special here"}
	for _, in := range inputs {
		encoded := EncodeValue(in)
		decoded := DecodeValue(encoded)
		if decoded != in {
			t.Errorf("round trip failed: in=%q encoded=%q decoded=%q", in, encoded, decoded)
		}
	}
}

func TestControlRequestEncodeHappyPathSubscribe(t *testing.T) {
	// §8 scenario 1: add subscription mode=MERGE items=[item1] fields=[a,b]
	req := &ControlRequest{
		ReqID:  1,
		Op:     OpAdd,
		SubID:  1,
		Mode:   "MERGE",
		Group:  "item1",
		Schema: "a b",
	}
	want := "LS_reqId=1&LS_op=add&LS_subId=1&LS_mode=MERGE&LS_group=item1&LS_schema=a b"
	if got := req.Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestControlRequestReplacementKey(t *testing.T) {
	add := &ControlRequest{Op: OpAdd, SubID: 5}
	del := &ControlRequest{Op: OpDelete, SubID: 5}
	if add.ReplacementKey() != del.ReplacementKey() {
		t.Errorf("add/delete for same subId should share a replacement key")
	}

	c1 := &ControlRequest{Op: OpConstrain}
	c2 := &ControlRequest{Op: OpConstrain}
	if c1.ReplacementKey() != c2.ReplacementKey() {
		t.Errorf("constrain requests should share a single replacement slot")
	}
}

func TestValidateItemName(t *testing.T) {
	if err := ValidateItemName(""); err == nil {
		t.Error("expected error for empty item name")
	}
	if err := ValidateItemName("has space"); err == nil {
		t.Error("expected error for item name with space")
	}
	if err := ValidateItemName("12345"); err == nil {
		t.Error("expected error for purely numeric item name")
	}
	if err := ValidateItemName("item1"); err != nil {
		t.Errorf("unexpected error for valid item name: %v", err)
	}
}

func TestListDescriptorLookup(t *testing.T) {
	d, err := NewListDescriptor([]string{"a", "b", "c"}, ValidateFieldName)
	if err != nil {
		t.Fatalf("NewListDescriptor: %v", err)
	}
	if name, ok := d.NameOf(2); !ok || name != "b" {
		t.Errorf("NameOf(2) = %q, %v; want b, true", name, ok)
	}
	if pos, ok := d.PosOf("c"); !ok || pos != 3 {
		t.Errorf("PosOf(c) = %d, %v; want 3, true", pos, ok)
	}
	if _, ok := d.PosOf("missing"); ok {
		t.Error("PosOf(missing) should be not-found")
	}
	if d.WireValue() != "a b c" {
		t.Errorf("WireValue() = %q, want %q", d.WireValue(), "a b c")
	}
}

func TestNameDescriptorNoPositionLookup(t *testing.T) {
	d, err := NewNameDescriptor("mygroup")
	if err != nil {
		t.Fatalf("NewNameDescriptor: %v", err)
	}
	if _, ok := d.NameOf(1); ok {
		t.Error("name descriptor should not resolve names")
	}
	if d.Size() != -1 {
		t.Errorf("Size() = %d, want -1 before SetSize", d.Size())
	}
	d.SetSize(3)
	if d.Size() != 3 {
		t.Errorf("Size() = %d, want 3 after SetSize", d.Size())
	}
}
