package config

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

const testPath = "/home/u/.config/confsync/config.toml"

func TestLoadMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Load(fs, testPath)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	cfg := Default()
	cfg.Profiles = []Profile{
		{
			ID:     "11111111-1111-1111-1111-111111111111",
			Name:   "default",
			Remote: "git@example.com:u/dotfiles.git",
			Entries: []Entry{
				{Path: "~/.zshrc", Alias: "zsh", Kind: "file"},
				{Path: "~/.config/nvim", Alias: "nvim", Kind: "directory"},
				{Path: "~/.ssh/config", Kind: "file", Encrypted: true},
			},
		},
		{ID: "22222222-2222-2222-2222-222222222222", Name: "work"},
	}

	if err := Save(fs, testPath, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(fs, testPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.ActiveProfile != "default" {
		t.Errorf("ActiveProfile = %q, want %q", got.ActiveProfile, "default")
	}
	if len(got.Profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(got.Profiles))
	}
	p := got.FindProfile("default")
	if p == nil {
		t.Fatal("default profile missing after round trip")
	}
	if len(p.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(p.Entries))
	}
	if p.Entries[0].Alias != "zsh" || p.Entries[1].Alias != "nvim" {
		t.Errorf("entry order not preserved: %+v", p.Entries)
	}
	if !p.Entries[2].Encrypted {
		t.Error("encrypted flag lost in round trip")
	}
	if p.Remote != "git@example.com:u/dotfiles.git" {
		t.Errorf("Remote = %q", p.Remote)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()

	raw := []byte("active_profile = \"default\"\n\n[[profiles]]\nid = \"x\"\nname = \"default\"\n")
	if err := afero.WriteFile(fs, testPath, raw, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(fs, testPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Settings.DebounceMs != DefaultDebounceMs {
		t.Errorf("DebounceMs = %d, want %d", cfg.Settings.DebounceMs, DefaultDebounceMs)
	}
	if len(cfg.Settings.Exclude) == 0 {
		t.Error("expected default exclude patterns")
	}
}

func TestActiveDangling(t *testing.T) {
	cfg := Default()
	cfg.ActiveProfile = "ghost"
	if cfg.Active() != nil {
		t.Error("Active() should be nil for unknown active profile")
	}
}

func TestRemoveProfile(t *testing.T) {
	cfg := Default()
	cfg.Profiles = []Profile{{ID: "a", Name: "default"}, {ID: "b", Name: "work"}}

	if !cfg.RemoveProfile("work") {
		t.Fatal("RemoveProfile returned false for existing profile")
	}
	if cfg.RemoveProfile("work") {
		t.Fatal("RemoveProfile returned true for removed profile")
	}
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].Name != "default" {
		t.Errorf("unexpected profiles after removal: %+v", cfg.Profiles)
	}
}
