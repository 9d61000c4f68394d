package pricing

import (
	"errors"
	"testing"
	"time"
)

func TestPrice(t *testing.T) {
	tests := []struct {
		name   string
		plan   Plan
		addons []Addon
		want   int64
	}{
		{name: "basic without addons", plan: PlanBasic, want: 0},
		{name: "basic with boost", plan: PlanBasic, addons: []Addon{AddonBoost}, want: 10000},
		{name: "standard without addons", plan: PlanStandard, want: 49900},
		{name: "standard with all addons", plan: PlanStandard,
			addons: []Addon{AddonBoost, AddonHighlight, AddonUrgent, AddonExtended},
			want:   49900 + 10000 + 5000 + 15000 + 20000},
		{name: "featured with highlight", plan: PlanFeatured, addons: []Addon{AddonHighlight}, want: 104900},
		{name: "unlimited without addons", plan: PlanUnlimited, want: 299900},
		{name: "duplicate addon counted once", plan: PlanBasic,
			addons: []Addon{AddonBoost, AddonBoost, AddonBoost}, want: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Price(tt.plan, tt.addons)
			if err != nil {
				t.Fatalf("Price error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Price = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrice_UnknownPlan(t *testing.T) {
	_, err := Price(Plan("premium"), nil)
	if !errors.Is(err, ErrInvalidCatalogItem) {
		t.Fatalf("expected ErrInvalidCatalogItem, got %v", err)
	}
}

func TestPrice_UnknownAddon(t *testing.T) {
	_, err := Price(PlanBasic, []Addon{Addon("sticky")})
	if !errors.Is(err, ErrInvalidCatalogItem) {
		t.Fatalf("expected ErrInvalidCatalogItem, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	d, limited, err := Duration(PlanBasic)
	if err != nil {
		t.Fatalf("Duration error: %v", err)
	}
	if !limited || d != 14*24*time.Hour {
		t.Fatalf("basic duration = %v limited=%v, want 14 days limited", d, limited)
	}

	_, limited, err = Duration(PlanUnlimited)
	if err != nil {
		t.Fatalf("Duration error: %v", err)
	}
	if limited {
		t.Fatalf("unlimited plan must have no expiry")
	}

	_, _, err = Duration(Plan("unknown"))
	if !errors.Is(err, ErrInvalidCatalogItem) {
		t.Fatalf("expected ErrInvalidCatalogItem, got %v", err)
	}
}

func TestNormalizeAddons(t *testing.T) {
	got := NormalizeAddons([]Addon{AddonUrgent, AddonBoost, AddonUrgent})
	if len(got) != 2 || got[0] != "boost" || got[1] != "urgent" {
		t.Fatalf("NormalizeAddons = %v, want sorted set [boost urgent]", got)
	}
}

func TestGrantsFeatured(t *testing.T) {
	if GrantsFeatured(PlanBasic) || GrantsFeatured(PlanStandard) {
		t.Fatalf("basic and standard must not grant featured placement")
	}
	if !GrantsFeatured(PlanFeatured) || !GrantsFeatured(PlanUnlimited) {
		t.Fatalf("featured and unlimited must grant featured placement")
	}
}
