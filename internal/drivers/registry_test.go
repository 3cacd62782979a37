package drivers

import "testing"

func TestRegisterDefaultsUnavailable(t *testing.T) {
	r := NewInMemory()
	r.Register("c1", nil)
	p, ok := r.Get("c1")
	if !ok {
		t.Fatal("expected presence to exist")
	}
	if p.Available {
		t.Fatal("expected available=false at identification")
	}
	if p.Last != nil {
		t.Fatal("expected no location at identification")
	}
}

func TestUpdateLocationRejectsNonFinite(t *testing.T) {
	r := NewInMemory()
	r.Register("c1", nil)
	if r.UpdateLocation("c1", 1, 1.0/zero(), 0) {
		t.Fatal("expected non-finite lng to be rejected")
	}
	p, _ := r.Get("c1")
	if p.Last != nil {
		t.Fatal("expected rejected update to leave Last nil")
	}
}

func TestFreshAndEligible(t *testing.T) {
	r := NewInMemory()
	r.Register("c1", nil)
	r.SetAvailable("c1", true)
	r.UpdateLocation("c1", -23.55, -46.63, 100000)

	p, _ := r.Get("c1")
	if !p.Fresh(105000, 30000) {
		t.Fatal("expected fresh within stale window")
	}
	if p.Fresh(200000, 30000) {
		t.Fatal("expected stale outside window")
	}
	if !p.Eligible(105000, 30000) {
		t.Fatal("expected eligible: available and fresh")
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	r := NewInMemory()
	r.Register("c1", nil)
	r.Remove("c1")
	if _, ok := r.Get("c1"); ok {
		t.Fatal("expected entry removed")
	}
}

func zero() float64 { return 0 }
