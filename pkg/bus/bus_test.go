package bus

import "testing"

func TestRouted(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		key     string
		want    string
	}{
		{
			name:    "with routing key",
			subject: "forged.builds.order",
			key:     "builder-a",
			want:    "forged.builds.order.builder-a",
		},
		{
			name:    "empty key keeps bare subject",
			subject: "forged.builds.kill",
			key:     "",
			want:    "forged.builds.kill",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Routed(tt.subject, tt.key); got != tt.want {
				t.Fatalf("Routed(%q, %q) = %q, want %q", tt.subject, tt.key, got, tt.want)
			}
		})
	}
}
