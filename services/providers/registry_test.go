package providers

import (
	"errors"
	"reflect"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("RegisterAndGet", func(t *testing.T) {
		registry := NewRegistry()

		if err := registry.RegisterProvider(&stubProvider{name: "openai"}, Descriptor{CostPer1K: 0.03}); err != nil {
			t.Fatalf("RegisterProvider() error = %v", err)
		}

		p, err := registry.GetProvider("openai")
		if err != nil {
			t.Fatalf("GetProvider() error = %v", err)
		}
		if p.Name() != "openai" {
			t.Errorf("Name() = %s, want openai", p.Name())
		}

		desc, err := registry.Describe("openai")
		if err != nil {
			t.Fatalf("Describe() error = %v", err)
		}
		if desc.Name != "openai" || desc.CostPer1K != 0.03 {
			t.Errorf("Describe() = %+v", desc)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		registry := NewRegistry()
		_ = registry.RegisterProvider(&stubProvider{name: "openai"}, Descriptor{})

		err := registry.RegisterProvider(&stubProvider{name: "openai"}, Descriptor{})
		if !errors.Is(err, ErrProviderAlreadyRegistered) {
			t.Errorf("RegisterProvider() error = %v, want ErrProviderAlreadyRegistered", err)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		registry := NewRegistry()

		if err := registry.RegisterProvider(nil, Descriptor{}); err == nil {
			t.Error("expected error for nil provider")
		}
		if err := registry.RegisterProvider(&stubProvider{}, Descriptor{}); err == nil {
			t.Error("expected error for empty name")
		}
		if err := registry.RegisterProvider(&stubProvider{name: "a"}, Descriptor{Name: "b"}); err == nil {
			t.Error("expected error for mismatched descriptor")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		registry := NewRegistry()

		if _, err := registry.GetProvider("missing"); !errors.Is(err, ErrProviderNotFound) {
			t.Errorf("GetProvider() error = %v, want ErrProviderNotFound", err)
		}
		if _, err := registry.Describe("missing"); !errors.Is(err, ErrProviderNotFound) {
			t.Errorf("Describe() error = %v, want ErrProviderNotFound", err)
		}
		if err := registry.UnregisterProvider("missing"); !errors.Is(err, ErrProviderNotFound) {
			t.Errorf("UnregisterProvider() error = %v, want ErrProviderNotFound", err)
		}
	})

	t.Run("ListSorted", func(t *testing.T) {
		registry := NewRegistry()
		for _, name := range []string{"google", "anthropic", "openai"} {
			_ = registry.RegisterProvider(&stubProvider{name: name}, Descriptor{})
		}

		want := []string{"anthropic", "google", "openai"}
		if got := registry.ListProviders(); !reflect.DeepEqual(got, want) {
			t.Errorf("ListProviders() = %v, want %v", got, want)
		}
		if registry.GetProviderCount() != 3 {
			t.Errorf("GetProviderCount() = %d, want 3", registry.GetProviderCount())
		}

		descs := registry.Descriptors()
		if len(descs) != 3 || descs[0].Name != "anthropic" {
			t.Errorf("Descriptors() = %+v", descs)
		}

		_ = registry.UnregisterProvider("google")
		if registry.Has("google") {
			t.Error("Has(google) = true after unregister")
		}
	})
}

func TestRegistryBuilder(t *testing.T) {
	builder := NewRegistryBuilder().
		WithProviderBuilder("openai", func(name string, cfg ProviderConfig) (Provider, error) {
			return &stubProvider{name: name}, nil
		}).
		WithProviderBuilder("broken", func(name string, cfg ProviderConfig) (Provider, error) {
			return nil, errors.New("missing api key")
		})

	registry, err := builder.Build(
		map[string]ProviderConfig{"openai": {APIKey: "k"}, "unknown": {}},
		map[string]Descriptor{"openai": {Tags: []string{"coding"}}},
	)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !reflect.DeepEqual(registry.ListProviders(), []string{"openai"}) {
		t.Errorf("ListProviders() = %v", registry.ListProviders())
	}
	desc, _ := registry.Describe("openai")
	if !desc.HasTag("coding") {
		t.Error("descriptor tags not carried over")
	}

	_, err = NewRegistryBuilder().
		WithProviderBuilder("broken", func(name string, cfg ProviderConfig) (Provider, error) {
			return nil, errors.New("missing api key")
		}).
		Build(map[string]ProviderConfig{"broken": {}}, nil)
	if err == nil {
		t.Error("Build() expected error from failing builder")
	}
}
