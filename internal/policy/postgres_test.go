package policy

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mfa-engine/policy-core/pkg/types"
)

var policyRowColumns = []string{
	"name", "scope", "action", "realms", "resolvers", "users", "clients", "active", "time_window",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewPostgresStore(db, PostgresStoreConfig{}), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(policyRowColumns).
		AddRow("admins", "admin", "disable, enable", "{realm1}", "{}", "{root,-backup}", "{}", true, "")
	mock.ExpectQuery("SELECT (.+) FROM policies WHERE name = \\$1").
		WithArgs("admins").
		WillReturnRows(rows)

	p, err := store.Get(context.Background(), "admins")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name != "admins" || p.Scope != types.ScopeAdmin {
		t.Errorf("policy = %+v", p)
	}
	if !p.Actions.Has("enable") || !p.Actions.Has("disable") {
		t.Errorf("actions = %v", p.Actions)
	}
	if !reflect.DeepEqual(p.Realms, []string{"realm1"}) {
		t.Errorf("realms = %v", p.Realms)
	}
	if !reflect.DeepEqual(p.Users, []string{"root", "-backup"}) {
		t.Errorf("users = %v", p.Users)
	}
	if p.Resolvers != nil {
		t.Errorf("empty array should scan to nil, got %v", p.Resolvers)
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_GetUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM policies WHERE name = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(policyRowColumns))

	_, err := store.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown policy")
	}
	if !types.IsParameter(err) {
		t.Errorf("expected KindParameter, got %v", types.KindOf(err))
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_All(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(policyRowColumns).
		AddRow("first", "admin", "enable", "{}", "{}", "{}", "{}", true, "").
		AddRow("second", "user", "setpin", "{}", "{}", "{}", "{}", false, "")
	mock.ExpectQuery("SELECT (.+) FROM policies ORDER BY id").
		WillReturnRows(rows)

	policies, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if !reflect.DeepEqual(storeNames(policies), []string{"first", "second"}) {
		t.Errorf("got %v", storeNames(policies))
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_Set(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO policies (.+) ON CONFLICT \\(name\\) DO UPDATE").
		WithArgs("admins", "admin", "enable", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), true, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &types.Policy{
		Name:    "admins",
		Scope:   types.ScopeAdmin,
		Actions: types.ParseActions("enable"),
		Active:  true,
	}
	if err := store.Set(context.Background(), p); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_SetValidatesBeforeSQL(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.Set(context.Background(), &types.Policy{Name: "bad", Scope: "kingdom"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !types.IsParameter(err) {
		t.Errorf("expected KindParameter, got %v", types.KindOf(err))
	}
	// No SQL must have been issued.
	expectationsMet(t, mock)
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM policies WHERE name = \\$1").
		WithArgs("admins").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), "admins"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_DeleteUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM policies WHERE name = \\$1").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "missing")
	if err == nil || !types.IsParameter(err) {
		t.Errorf("got %v, want KindParameter", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_Enable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE policies SET active = \\$2 WHERE name = \\$1").
		WithArgs("admins", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Enable(context.Background(), "admins", false); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_Replace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM policies").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO policies").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO policies").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	policies := []types.Policy{
		{Name: "first", Scope: types.ScopeAdmin, Actions: types.ParseActions("enable"), Active: true},
		{Name: "second", Scope: types.ScopeUser, Actions: types.ParseActions("setpin"), Active: true},
	}
	if err := store.Replace(context.Background(), policies); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_ReplaceRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM policies").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO policies").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	policies := []types.Policy{
		{Name: "first", Scope: types.ScopeAdmin, Actions: types.ParseActions("enable"), Active: true},
	}
	if err := store.Replace(context.Background(), policies); err == nil {
		t.Fatal("expected insert error to surface")
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_ReplaceValidatesBeforeSQL(t *testing.T) {
	store, mock := newMockStore(t)

	policies := []types.Policy{
		{Name: "dup", Scope: types.ScopeAdmin, Actions: types.ParseActions("enable"), Active: true},
		{Name: "dup", Scope: types.ScopeAdmin, Actions: types.ParseActions("disable"), Active: true},
	}
	err := store.Replace(context.Background(), policies)
	if err == nil || !types.IsParameter(err) {
		t.Errorf("got %v, want KindParameter for duplicate names", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM policies").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 7 {
		t.Errorf("count = %d, want 7", n)
	}
	expectationsMet(t, mock)
}
