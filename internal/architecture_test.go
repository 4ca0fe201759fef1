package internal

import (
	"github.com/kcmvp/archunit"
	"testing"
)

func TestArchitecture(t *testing.T) {
	domain := archunit.Packages("domain", []string{".../internal/domain/..."})
	ports := archunit.Packages("ports", []string{".../internal/ports/..."})
	adapters := archunit.Packages("adapters", []string{".../internal/adapters/..."})

	// Rule 1: Domain should not depend on adapters
	if err := domain.ShouldNotReferLayers(adapters); err != nil {
		t.Errorf("Architecture violation: Domain depends on Adapters: %v", err)
	}

	// Rule 2: Ports are plain interfaces over the domain model
	if err := ports.ShouldNotReferLayers(adapters); err != nil {
		t.Errorf("Architecture violation: Ports depend on Adapters: %v", err)
	}
}

func TestSOLID(t *testing.T) {
	translator := archunit.Packages("translator", []string{".../internal/domain/translator"})
	if len(translator.Packages()) == 0 {
		t.Error("No translator package found in domain")
	}

	service := archunit.Packages("service", []string{".../internal/domain/service"})
	if len(service.Packages()) == 0 {
		t.Error("No reconciler service package found in domain")
	}
}
