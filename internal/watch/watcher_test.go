package watch

import "testing"

func TestExcludedUnderMatchesLikeScan(t *testing.T) {
	exclude := []string{".git", "*.swp", "cache/*"}
	root := "/home/user/.config/app"

	cases := []struct {
		name string
		path string
		want bool
	}{
		{"plain file", root + "/app.conf", false},
		{"nested file", root + "/sub/app.conf", false},
		{"base name pattern", root + "/sub/.app.conf.swp", true},
		{"excluded directory", root + "/.git", true},
		{"inside excluded directory", root + "/.git/objects/ab", true},
		{"relative pattern", root + "/cache/state.bin", true},
		{"deep under relative pattern", root + "/cache/state/bin", true},
		{"root itself", root, false},
		{"outside the root", "/home/user/other", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := excludedUnder(exclude, root, tc.path); got != tc.want {
				t.Errorf("excludedUnder(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}
