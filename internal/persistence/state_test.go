// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type sampleDoc struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestLoad_MissingFileReturnsErrUsedDefault(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.json"))
	var v sampleDoc
	if err := s.Load(&v); err != ErrUsedDefault {
		t.Errorf("Load() error = %v, want ErrUsedDefault", err)
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)

	want := sampleDoc{Name: "wan1", Value: 42}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	var got sampleDoc
	if err := s.Load(&got); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestSave_SkipsWriteWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)

	doc := sampleDoc{Name: "wan1", Value: 1}
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}

	if err := s.Save(doc); err != nil {
		t.Fatalf("second Save() error: %v", err)
	}
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Error("expected an identical Save() to skip the write entirely (unchanged mtime)")
	}
}

func TestSave_RotatesPreviousVersionToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)

	if err := s.Save(sampleDoc{Name: "wan1", Value: 1}); err != nil {
		t.Fatalf("first Save() error: %v", err)
	}
	if err := s.Save(sampleDoc{Name: "wan1", Value: 2}); err != nil {
		t.Fatalf("second Save() error: %v", err)
	}

	backup, err := os.ReadFile(path + ".backup")
	if err != nil {
		t.Fatalf("reading backup file: %v", err)
	}
	var got sampleDoc
	if err := json.Unmarshal(backup, &got); err != nil {
		t.Fatalf("parsing backup file: %v", err)
	}
	if got.Value != 1 {
		t.Errorf("backup holds value %d, want the pre-rotation value 1", got.Value)
	}
}

func TestLoad_CorruptFileIsQuarantinedAndDefaultUsed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatalf("seeding corrupt file: %v", err)
	}

	s := New(path)
	var v sampleDoc
	if err := s.Load(&v); err != ErrUsedDefault {
		t.Errorf("Load() error = %v, want ErrUsedDefault", err)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("expected the corrupt file to be quarantined to %q.corrupt: %v", path, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected the original corrupt path to be renamed away, not left in place")
	}
}

func TestLoad_EmptyFileReturnsErrUsedDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("   \n"), 0o600); err != nil {
		t.Fatalf("seeding empty file: %v", err)
	}

	s := New(path)
	var v sampleDoc
	if err := s.Load(&v); err != ErrUsedDefault {
		t.Errorf("Load() error = %v, want ErrUsedDefault for whitespace-only content", err)
	}
}

func TestLoad_NullAndArrayAreNotCorruption(t *testing.T) {
	for _, content := range []string{"null", "[]", "{}"} {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("seeding %q: %v", content, err)
		}
		s := New(path)
		var v sampleDoc
		if err := s.Load(&v); err != nil {
			t.Errorf("Load(%q) error = %v, want nil", content, err)
		}
	}
}
