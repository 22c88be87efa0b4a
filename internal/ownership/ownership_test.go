package ownership

import "testing"

func TestCanDelete(t *testing.T) {
	tests := []struct {
		name          string
		authorID      string
		authorName    string
		principalID   string
		principalName string
		want          bool
	}{
		{"own item by id", "u1", "Alice", "u1", "Alice", true},
		{"someone else's item", "u1", "Alice", "u2", "Bob", false},
		{"id match beats name mismatch", "u1", "Alice", "u1", "Completely Different", true},
		{"id mismatch despite same name", "u1", "Alice", "u2", "Alice", false},
		{"legacy item, name matches", "", "Alice", "u2", "Alice", true},
		{"legacy item, name differs", "", "Alice", "u2", "Bob", false},
		{"legacy item, whitespace-insensitive match", "", "  Alice  ", "u2", "Alice", true},
		{"legacy item, case matters", "", "alice", "u2", "Alice", false},
		{"signed out", "u1", "Alice", "", "Alice", false},
		{"signed out, legacy item", "", "Alice", "", "Alice", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanDelete(tt.authorID, tt.authorName, tt.principalID, tt.principalName)
			if got != tt.want {
				t.Errorf("CanDelete(%q, %q, %q, %q) = %v, want %v",
					tt.authorID, tt.authorName, tt.principalID, tt.principalName, got, tt.want)
			}
		})
	}
}
