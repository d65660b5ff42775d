package util

import (
	"testing"
)

func TestExpandHome(t *testing.T) {
	tests := []struct {
		name string
		home string
		path string
		want string
	}{
		{"tilde only", "/home/u", "~", "/home/u"},
		{"tilde slash", "/home/u", "~/.zshrc", "/home/u/.zshrc"},
		{"nested", "/home/u", "~/.config/nvim/init.lua", "/home/u/.config/nvim/init.lua"},
		{"absolute untouched", "/home/u", "/etc/hosts", "/etc/hosts"},
		{"absolute cleaned", "/home/u", "/etc//hosts/", "/etc/hosts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandHome(tt.home, tt.path)
			if err != nil {
				t.Fatalf("ExpandHome(%q, %q) error: %v", tt.home, tt.path, err)
			}
			if got != tt.want {
				t.Errorf("ExpandHome(%q, %q) = %q, want %q", tt.home, tt.path, got, tt.want)
			}
		})
	}
}

func TestExpandHomeEmpty(t *testing.T) {
	if _, err := ExpandHome("/home/u", ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestContractHome(t *testing.T) {
	tests := []struct {
		name string
		home string
		path string
		want string
	}{
		{"under home", "/home/u", "/home/u/.zshrc", "~/.zshrc"},
		{"home itself", "/home/u", "/home/u", "~"},
		{"outside home", "/home/u", "/etc/hosts", "/etc/hosts"},
		{"prefix but not child", "/home/u", "/home/user/.zshrc", "/home/user/.zshrc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContractHome(tt.home, tt.path); got != tt.want {
				t.Errorf("ContractHome(%q, %q) = %q, want %q", tt.home, tt.path, got, tt.want)
			}
		})
	}
}
