package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gorm.io/datatypes"

	"sipengine/internal/models"
)

type memSettings struct {
	items  map[string]models.SystemSetting
	getErr error
}

func newMemSettings() *memSettings {
	return &memSettings{items: map[string]models.SystemSetting{}}
}

func (m *memSettings) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	m.items[item.Key] = *item
	return nil
}

func (m *memSettings) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	item, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func TestEnsureDefaultSwitches_SeedsMissing(t *testing.T) {
	repo := newMemSettings()
	svc := &SystemSettingsService{Repo: repo}
	if err := svc.EnsureDefaultSwitches(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	for key := range DefaultFeatureSwitches() {
		if _, ok := repo.items[key]; !ok {
			t.Fatalf("switch %s not seeded", key)
		}
	}
	if !svc.IsEnabled(context.Background(), FeatureSIPScheduler, false) {
		t.Fatalf("scheduler switch should default on")
	}
}

func TestEnsureDefaultSwitches_KeepsOperatorChoice(t *testing.T) {
	repo := newMemSettings()
	svc := &SystemSettingsService{Repo: repo}
	ctx := context.Background()
	if err := svc.SetEnabled(ctx, FeatureSIPScheduler, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := svc.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if svc.IsEnabled(ctx, FeatureSIPScheduler, true) {
		t.Fatalf("restart must not re-enable a paused scheduler")
	}
}

func TestIsEnabled_Fallbacks(t *testing.T) {
	ctx := context.Background()

	var nilSvc *SystemSettingsService
	if !nilSvc.IsEnabled(ctx, FeatureSIPScheduler, true) {
		t.Fatalf("nil service should return fallback")
	}

	repo := newMemSettings()
	svc := &SystemSettingsService{Repo: repo}
	if svc.IsEnabled(ctx, "  ", false) {
		t.Fatalf("blank key should return fallback")
	}

	repo.items["feature.garbled"] = models.SystemSetting{Key: "feature.garbled", Value: datatypes.JSON(`"yes"`)}
	if !svc.IsEnabled(ctx, "feature.garbled", true) {
		t.Fatalf("non-bool value should return fallback")
	}

	repo.getErr = errors.New("db down")
	if !svc.IsEnabled(ctx, FeatureSIPScheduler, true) {
		t.Fatalf("store error should return fallback")
	}
}

func TestSetEnabled_StoresJSONBool(t *testing.T) {
	repo := newMemSettings()
	svc := &SystemSettingsService{Repo: repo}
	if err := svc.SetEnabled(context.Background(), FeatureSIPNotifications, false); err != nil {
		t.Fatalf("err=%v", err)
	}
	var v bool
	if err := json.Unmarshal(repo.items[FeatureSIPNotifications].Value, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v {
		t.Fatalf("stored=%v want false", v)
	}
}
