package account

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "antigravity-accounts.json"))
}

func TestLoadMissingFileReturnsEmptyPool(t *testing.T) {
	store := tempStore(t)
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(state.Accounts) != 0 || state.ActiveIndex != 0 {
		t.Errorf("expected empty state, got %+v", state)
	}
}

func TestLoadCorruptFileReturnsEmptyPool(t *testing.T) {
	store := tempStore(t)
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(state.Accounts) != 0 {
		t.Errorf("expected empty pool for corrupt file, got %d accounts", len(state.Accounts))
	}
}

func TestLoadClampsActiveIndex(t *testing.T) {
	store := tempStore(t)
	raw := `{"version":3,"accounts":[{"email":"a@x","refreshToken":"rt-a"}],"activeIndex":7}`
	if err := os.WriteFile(store.Path(), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state.ActiveIndex != 0 {
		t.Errorf("ActiveIndex = %d, want 0", state.ActiveIndex)
	}
}

func TestLoadDropsAccountsWithoutRefreshToken(t *testing.T) {
	store := tempStore(t)
	raw := `{"version":3,"accounts":[{"email":"a@x","refreshToken":"rt-a"},{"email":"b@x","refreshToken":""}],"activeIndex":0}`
	if err := os.WriteFile(store.Path(), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(state.Accounts) != 1 || state.Accounts[0].Email != "a@x" {
		t.Errorf("expected only a@x to survive, got %+v", state.Accounts)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	store := tempStore(t)
	want := &State{
		Accounts: []*Account{
			{Email: "a@x", RefreshToken: "rt-a", AccessToken: "at-a", ExpiresAt: 1234, ProjectID: "proj", Tier: "paid"},
			{Email: "b@x", RefreshToken: "rt-b"},
		},
		ActiveIndex: 1,
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Version != stateVersion {
		t.Errorf("Version = %d, want %d", got.Version, stateVersion)
	}
	if got.ActiveIndex != 1 || len(got.Accounts) != 2 {
		t.Errorf("unexpected state after round trip: %+v", got)
	}
	if got.Accounts[0].AccessToken != "at-a" || got.Accounts[0].ProjectID != "proj" {
		t.Errorf("account fields lost in round trip: %+v", got.Accounts[0])
	}

	// The file is the documented JSON shape, not an incidental encoding.
	data, _ := os.ReadFile(store.Path())
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	for _, key := range []string{"version", "accounts", "activeIndex"} {
		if _, ok := shape[key]; !ok {
			t.Errorf("state file missing top-level key %q", key)
		}
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	store := tempStore(t)
	if err := store.Save(&State{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the state file in the directory, found %d entries", len(entries))
	}
}
