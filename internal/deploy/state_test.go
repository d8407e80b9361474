package deploy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := &State{
		Version:     "abc1234",
		RegistryURI: "123456789012.dkr.ecr.us-east-1.amazonaws.com/bia-app",
	}
	if err := SaveState(dir, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, err := LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if *loaded != *st {
		t.Errorf("got %+v, want %+v", loaded, st)
	}
	if got := loaded.ImageRef(); got != "123456789012.dkr.ecr.us-east-1.amazonaws.com/bia-app:abc1234" {
		t.Errorf("image ref: got %q", got)
	}

	// Updating overwrites in place, the record is not append-only.
	st.TaskDefARN = "arn:aws:ecs:us-east-1:123456789012:task-definition/bia-tf:4"
	if err := SaveState(dir, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	loaded, err = LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.TaskDefARN != st.TaskDefARN {
		t.Errorf("task def arn: got %q, want %q", loaded.TaskDefARN, st.TaskDefARN)
	}
}

func TestLoadStateMissing(t *testing.T) {
	_, err := LoadState(t.TempDir())
	if !errors.Is(err, ErrNoState) {
		t.Errorf("got %v, want ErrNoState", err)
	}
}

func TestLoadStateIncomplete(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, StateFile), []byte(`{"version":"abc1234"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(dir); err == nil {
		t.Error("expected error for incomplete record, got nil")
	}
}

func TestClearState(t *testing.T) {
	dir := t.TempDir()
	if err := ClearState(dir); err != nil {
		t.Errorf("clearing absent state should succeed, got %v", err)
	}

	st := &State{Version: "abc1234", RegistryURI: "example.com/repo"}
	if err := SaveState(dir, st); err != nil {
		t.Fatal(err)
	}
	if err := ClearState(dir); err != nil {
		t.Fatalf("ClearState: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, StateFile)); !os.IsNotExist(err) {
		t.Error("state file still present after ClearState")
	}
}
