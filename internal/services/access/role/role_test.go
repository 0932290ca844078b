package role

import "testing"

var allRoles = []Role{None, Reader, Speaker, Vip, Moderator, Owner}

func TestCombineNoneIsIdentity(t *testing.T) {
	for _, r := range allRoles {
		if got := Combine(r, None); got != r {
			t.Fatalf("Combine(%q, None) = %q, want %q", r, got, r)
		}
		if got := Combine(None, r); got != r {
			t.Fatalf("Combine(None, %q) = %q, want %q", r, got, r)
		}
	}
	if got := Combine(None, None); got != None {
		t.Fatalf("Combine(None, None) = %q, want None", got)
	}
}

func TestCombineCommutativeAndIdempotent(t *testing.T) {
	for _, a := range allRoles {
		for _, b := range allRoles {
			if Combine(a, b) != Combine(b, a) {
				t.Fatalf("Combine(%q, %q) != Combine(%q, %q)", a, b, b, a)
			}
		}
		if got := Combine(a, a); got != a {
			t.Fatalf("Combine(%q, %q) = %q, want %q", a, a, got, a)
		}
	}
}

func TestCombineKeepsHigherRank(t *testing.T) {
	cases := []struct {
		a, b, want Role
	}{
		{Reader, Owner, Owner},
		{Moderator, Speaker, Moderator},
		{Vip, Vip, Vip},
		{Speaker, Reader, Speaker},
	}
	for _, tc := range cases {
		if got := Combine(tc.a, tc.b); got != tc.want {
			t.Fatalf("Combine(%q, %q) = %q, want %q", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCombineAllIsMaxRank(t *testing.T) {
	sequences := [][]Role{
		{},
		{None},
		{Reader, None, Vip, Speaker},
		{Owner, Reader},
		{None, None, Moderator},
	}
	for _, seq := range sequences {
		want := None
		for _, r := range seq {
			if Level(r) > Level(want) {
				want = r
			}
		}
		if got := CombineAll(seq...); got != want {
			t.Fatalf("CombineAll(%v) = %q, want %q", seq, got, want)
		}
	}
}

func TestLevelIsTotalOrder(t *testing.T) {
	order := []Role{None, Reader, Speaker, Vip, Moderator, Owner}
	for i := 1; i < len(order); i++ {
		if Level(order[i]) <= Level(order[i-1]) {
			t.Fatalf("expected Level(%q) > Level(%q)", order[i], order[i-1])
		}
	}
	if Level(Role("stranger")) != 0 {
		t.Fatal("expected unknown role to rank as None")
	}
}

func TestValid(t *testing.T) {
	for _, r := range []Role{Reader, Speaker, Vip, Moderator, Owner} {
		if !Valid(r) {
			t.Fatalf("expected %q to be valid", r)
		}
	}
	if Valid(None) {
		t.Fatal("expected None to be invalid as a grant role")
	}
	if Valid(Role("stranger")) {
		t.Fatal("expected unknown role to be invalid")
	}
}
