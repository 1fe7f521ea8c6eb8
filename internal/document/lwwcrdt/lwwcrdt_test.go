package lwwcrdt

import "testing"

func TestChangeApplyRoundTrip(t *testing.T) {
	alice := NewProvider("alice")
	doc := alice.Init()

	change, err := doc.Change(func(d map[string]any) {
		d["title"] = "Buy milk"
		d["done"] = false
	})
	if err != nil {
		t.Fatal(err)
	}

	view := doc.Materialize()
	if view["title"] != "Buy milk" || view["done"] != false {
		t.Fatalf("unexpected materialized view: %+v", view)
	}

	bob := NewProvider("bob").Init()
	if err := bob.Apply(change); err != nil {
		t.Fatal(err)
	}
	bobView := bob.Materialize()
	if bobView["title"] != "Buy milk" {
		t.Fatalf("bob's view did not converge: %+v", bobView)
	}
}

func TestConcurrentFieldWritesConverge(t *testing.T) {
	alice := NewProvider("alice").Init()
	bob := NewProvider("bob").Init()

	c1, err := alice.Change(func(d map[string]any) {
		d["title"] = "Buy milk"
		d["done"] = false
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := bob.Apply(c1); err != nil {
		t.Fatal(err)
	}

	c2, err := bob.Change(func(d map[string]any) {
		d["done"] = true
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Apply(c2); err != nil {
		t.Fatal(err)
	}

	aliceView := alice.Materialize()
	bobView := bob.Materialize()
	if aliceView["done"] != true || bobView["done"] != true {
		t.Fatalf("expected both peers converged on done=true: alice=%+v bob=%+v", aliceView, bobView)
	}
	if aliceView["title"] != bobView["title"] {
		t.Fatalf("title diverged: alice=%v bob=%v", aliceView["title"], bobView["title"])
	}
}

func TestEncodeDecodeChangeRoundTrip(t *testing.T) {
	p := NewProvider("alice")
	d := p.Init()
	change, err := d.Change(func(doc map[string]any) { doc["x"] = 1 })
	if err != nil {
		t.Fatal(err)
	}
	wire := p.EncodeChange(change)
	decoded, err := p.DecodeChange(wire)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Hash != change.Hash {
		t.Fatalf("encode/decode round trip mismatch: %s != %s", decoded.Hash, change.Hash)
	}
}
