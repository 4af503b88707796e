// ABOUTME: Tests for WearableDevice and SyncSchedule models.
// ABOUTME: Validates constructor defaults, capability filtering, and due checks.
package models

import (
	"testing"
	"time"
)

func TestNewWearableDevice(t *testing.T) {
	d := NewWearableDevice("user-1", VendorFitbit, "ext-1", []MetricType{MetricSteps, MetricHeartRate})

	if d.Status != DeviceConnected {
		t.Errorf("Status = %s, want connected", d.Status)
	}
	if d.SyncState != SyncStateIdle {
		t.Errorf("SyncState = %s, want idle", d.SyncState)
	}
	if !d.Settings.SyncEnabled {
		t.Error("expected sync to be enabled by default")
	}
	if !d.IsConnected() {
		t.Error("expected new device to be connected")
	}
}

func TestSyncTypes(t *testing.T) {
	d := NewWearableDevice("u", VendorGarmin, "x", []MetricType{MetricSteps, MetricHeartRate})

	if got := d.SyncTypes(); len(got) != 2 {
		t.Errorf("SyncTypes() = %v, want all capabilities", got)
	}

	d.Settings.MetricTypes = []MetricType{MetricHeartRate, MetricWeight}
	got := d.SyncTypes()
	if len(got) != 1 || got[0] != MetricHeartRate {
		t.Errorf("SyncTypes() = %v, want [heart_rate]", got)
	}
}

func TestIsConnectedSoftDeleted(t *testing.T) {
	d := NewWearableDevice("u", VendorGarmin, "x", nil)
	now := time.Now()
	d.DeletedAt = &now

	if d.IsConnected() {
		t.Error("soft-deleted device must not be connected")
	}
}

func TestScheduleIsDue(t *testing.T) {
	now := time.Now()
	s := &SyncSchedule{NextSyncAt: now}

	if !s.IsDue(now) {
		t.Error("schedule should be due at NextSyncAt")
	}
	if s.IsDue(now.Add(-time.Second)) {
		t.Error("schedule should not be due before NextSyncAt")
	}
}

func TestVendorValidation(t *testing.T) {
	if !IsValidVendor("fitbit") {
		t.Error("fitbit should be valid")
	}
	if IsValidVendor("pebble") {
		t.Error("pebble should be invalid")
	}
}
