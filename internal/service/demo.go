package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"portalauth/internal/ids"
	"portalauth/internal/models"
	"portalauth/internal/repository"
	"portalauth/internal/security"
)

// DemoPassword is the real password of every seeded demo account.
const DemoPassword = "Demo!Passw0rd"

// demoShortcutPasswords are additionally accepted for demo accounts, and only while
// demo mode is on and the call is served by the in-memory store.
var demoShortcutPasswords = []string{"demo", "demo123", "password123"}

type DemoAccount struct {
	Email     string
	FirstName string
	Role      models.UserRole
}

var DemoAccounts = []DemoAccount{
	{Email: "superadmin@demo.local", FirstName: "Sam", Role: models.UserRoleSuperAdmin},
	{Email: "admin@demo.local", FirstName: "Ada", Role: models.UserRoleAdmin},
	{Email: "editor@demo.local", FirstName: "Eli", Role: models.UserRoleEditor},
	{Email: "member@demo.local", FirstName: "Max", Role: models.UserRoleMember},
	{Email: "client@demo.local", FirstName: "Cleo", Role: models.UserRoleClient},
	{Email: "viewer@demo.local", FirstName: "Vic", Role: models.UserRoleViewer},
}

// SeedDemoAccounts loads the demo accounts into backend. Accounts that already exist
// are left alone.
func SeedDemoAccounts(ctx context.Context, backend repository.Backend, hasher *security.Hasher) error {
	hash, err := hasher.Hash(DemoPassword)
	if err != nil {
		return err
	}

	for _, acct := range DemoAccounts {
		err := backend.Users().Create(ctx, models.User{
			ID:           ids.New(),
			Email:        acct.Email,
			FirstName:    acct.FirstName,
			LastName:     "Demo",
			PasswordHash: hash,
			Role:         acct.Role,
			Status:       models.UserStatusActive,
		})
		if err != nil && !errors.Is(err, repository.ErrEmailTaken) {
			return fmt.Errorf("seed %s: %w", acct.Email, err)
		}
	}
	return nil
}

func isDemoAccount(email string) bool {
	for _, acct := range DemoAccounts {
		if strings.EqualFold(acct.Email, email) {
			return true
		}
	}
	return false
}

func isDemoShortcut(password string) bool {
	for _, p := range demoShortcutPasswords {
		if p == password {
			return true
		}
	}
	return false
}
