package main

import (
	"fmt"

	"tillbook/backend/internal/config"
)

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects digit-only PINs that are common, repeated
// or sequential.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}

	known := map[string]bool{
		"123456": true, "654321": true, "121212": true, "112233": true,
		"123123": true, "696969": true, "159753": true, "147258": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	switch {
	case constantStep(pin, 0):
		return fmt.Errorf("all-same-digit PIN not allowed")
	case constantStep(pin, 1), constantStep(pin, -1):
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}

// constantStep reports whether every digit differs from the previous one by step.
func constantStep(pin string, step int) bool {
	for i := 1; i < len(pin); i++ {
		if int(pin[i])-int(pin[i-1]) != step {
			return false
		}
	}
	return true
}
