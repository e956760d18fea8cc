// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package provider

import "testing"

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Descriptor)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(d *Descriptor) {},
		},
		{
			name:    "missing id",
			mutate:  func(d *Descriptor) { d.ID = "" },
			wantErr: true,
		},
		{
			name:    "invalid kind",
			mutate:  func(d *Descriptor) { d.Kind = "carrier-pigeon" },
			wantErr: true,
		},
		{
			name:    "restriction mismatch",
			mutate:  func(d *Descriptor) { d.RestrictTo = KindSDK },
			wantErr: true,
		},
		{
			name:   "restriction match",
			mutate: func(d *Descriptor) { d.RestrictTo = KindHTTP },
		},
		{
			name:    "invalid tier",
			mutate:  func(d *Descriptor) { d.Tiers = []Tier{"platinum"} },
			wantErr: true,
		},
		{
			name:    "negative concurrency",
			mutate:  func(d *Descriptor) { d.MaxConcurrent = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := basicDescriptor("p1")
			tt.mutate(d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrustClassPriorAndRank(t *testing.T) {
	if TrustInternal.Prior() <= TrustPartner.Prior() ||
		TrustPartner.Prior() <= TrustCommunity.Prior() {
		t.Fatal("trust priors are not strictly ordered internal > partner > community")
	}
	if TrustClass("unknown").Prior() >= TrustCommunity.Prior() {
		t.Fatal("unknown trust class should rank below community")
	}
	if TrustInternal.Rank() <= TrustPartner.Rank() ||
		TrustPartner.Rank() <= TrustCommunity.Rank() ||
		TrustCommunity.Rank() <= TrustClass("unknown").Rank() {
		t.Fatal("trust ranks are not strictly ordered")
	}
}

func TestCostClassEstimate(t *testing.T) {
	low := CostLow.EstimateCost(1000)
	std := CostStandard.EstimateCost(1000)
	prem := CostPremium.EstimateCost(1000)

	if !(low < std && std < prem) {
		t.Fatalf("cost estimates not ordered: low=%v standard=%v premium=%v", low, std, prem)
	}
	if CostClass("").EstimateCost(1000) != std {
		t.Fatal("unknown cost class should fall back to standard pricing")
	}
	if got := CostStandard.EstimateCost(0); got != 0 {
		t.Fatalf("EstimateCost(0) = %v, want 0", got)
	}
}

func TestServesTier(t *testing.T) {
	d := basicDescriptor("p1")
	d.Tiers = []Tier{TierPremium, TierCritical}

	if d.ServesTier(TierBasic) {
		t.Error("ServesTier(basic) = true, want false")
	}
	if !d.ServesTier(TierCritical) {
		t.Error("ServesTier(critical) = false, want true")
	}
}

func TestTierAndKindValidation(t *testing.T) {
	for _, s := range []string{"basic", "premium", "critical"} {
		if !IsValidTier(s) {
			t.Errorf("IsValidTier(%q) = false", s)
		}
	}
	if IsValidTier("Basic") || IsValidTier("") {
		t.Error("IsValidTier accepted invalid input")
	}

	for _, s := range []string{"subprocess", "sdk", "http"} {
		if !IsValidKind(s) {
			t.Errorf("IsValidKind(%q) = false", s)
		}
	}
	if IsValidKind("grpc") {
		t.Error("IsValidKind accepted invalid input")
	}
}
