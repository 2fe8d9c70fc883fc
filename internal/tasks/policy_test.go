package tasks

import "testing"

func TestDenylistPolicyAllowed(t *testing.T) {
	t.Parallel()

	p := NewDenylistPolicy()
	cases := []struct {
		desc    string
		command string
		allowed bool
	}{
		{"benign command", "uptime", true},
		{"ls with flags", "ls -la /var/log", true},
		{"rm root", "rm -rf /", false},
		{"rm root trailing spaces", "rm -rf / ", false},
		{"rm no preserve root", "rm -rf --no-preserve-root /", false},
		{"fork bomb", ":(){ :|:& };:", false},
		{"mkfs", "mkfs.ext4 /dev/sda1", false},
		{"dd to disk", "dd if=/dev/zero of=/dev/sda bs=1M", false},
		{"shutdown", "shutdown -h now", false},
		{"poweroff", "poweroff", false},
		{"redirect to disk device", "echo hi > /dev/sda", false},
		{"truncate passwd", ": > /etc/passwd", false},
		{"chmod wipe perms", "chmod -R 000 /", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			ok, reason := p.Allowed(tc.command)
			if ok != tc.allowed {
				t.Fatalf("Allowed(%q) = %v, %q; want %v", tc.command, ok, reason, tc.allowed)
			}
			if !tc.allowed && reason == "" {
				t.Fatalf("Allowed(%q) returned false with empty reason", tc.command)
			}
		})
	}
}
