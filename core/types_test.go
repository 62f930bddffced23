package core

import (
	"math"
	"testing"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxFloat64, math.MaxFloat64); err == nil {
		t.Fatalf("expected non-finite error")
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestValidateID(t *testing.T) {
	if err := ValidateID("quiz_completed-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := ValidateID("bad id"); err == nil {
		t.Fatalf("expected invalid id err")
	}
}

func TestErrorCodes(t *testing.T) {
	if !IsNotFound(NotFound("event %s", "e1")) {
		t.Fatal("expected not found")
	}
	if !IsValidation(Validation("bad")) {
		t.Fatal("expected validation")
	}
	if CodeOf(nil) != "" {
		t.Fatal("nil error should have empty code")
	}
}

func TestUserGameAchievementHas(t *testing.T) {
	rec := UserGameAchievement{Achievements: []UnlockedAchievement{{AchievementID: "a1"}}}
	if !rec.Has("a1") || rec.Has("a2") {
		t.Fatal("set membership mismatch")
	}
}
