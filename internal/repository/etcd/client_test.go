package etcd

import "testing"

func TestLockKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"affinity-group/g1", "/placement/locks/affinity-group/g1"},
		{"/affinity-group/g1", "/placement/locks/affinity-group/g1"},
	}
	for _, tt := range tests {
		if got := LockKey(tt.key); got != tt.want {
			t.Errorf("LockKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLeader_NotLeaderByDefault(t *testing.T) {
	l := &Leader{}
	if l.IsLeader() {
		t.Error("a new participant must not report leadership")
	}
}
