package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"helpdesk-auth/backend/internal/user/domain"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRepository()
	role := "r1"
	if err := m.UpsertRole(ctx, domain.Role{ID: role, Name: "agent"}); err != nil {
		t.Fatalf("UpsertRole: %v", err)
	}
	u := &domain.User{ID: "u1", Email: " Agent@Example.com", PasswordHash: "h", RoleID: &role, Active: true}
	if err := m.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Create(ctx, &domain.User{ID: "u2", Email: "agent@example.com", PasswordHash: "h"}); !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Errorf("duplicate Create: want ErrDuplicateEmail, got %v", err)
	}
	got, err := m.GetByEmail(ctx, "AGENT@example.com")
	if err != nil || got == nil || got.ID != "u1" {
		t.Fatalf("GetByEmail: got %v, %v", got, err)
	}
	if ok, _ := m.SetActive(ctx, "u1", false, time.Now()); !ok {
		t.Error("SetActive should report a change")
	}
	lu, lr, lt := m.Lookup("u1")
	if lu == nil || lu.Active || lr == nil || lr.Name != "agent" || lt != nil {
		t.Errorf("Lookup = %+v %+v %+v", lu, lr, lt)
	}

	m.FailWith(errors.New("down"))
	if _, err := m.GetByID(ctx, "u1"); err == nil {
		t.Error("GetByID should fail after FailWith")
	}
}
