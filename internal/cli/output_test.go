package cli

import "testing"

func TestCoordinateString(t *testing.T) {
	tests := []struct {
		name  string
		coord map[string]string
		want  string
	}{
		{"empty", nil, "-"},
		{"single axis", map[string]string{"os": "linux"}, "os=linux"},
		{"axes sorted", map[string]string{"os": "linux", "go": "1.24"}, "go=1.24 os=linux"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coordinateString(tt.coord); got != tt.want {
				t.Errorf("coordinateString = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScheduleSpec(t *testing.T) {
	if got := scheduleSpec("*/5 * * * *", 0); got != "*/5 * * * *" {
		t.Errorf("cron spec = %q", got)
	}
	if got := scheduleSpec("", 30); got != "@every 30s" {
		t.Errorf("interval spec = %q, want \"@every 30s\"", got)
	}
	if got := scheduleSpec("", 0); got != "-" {
		t.Errorf("empty spec = %q, want \"-\"", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "-"},
		{250, "250ms"},
		{1000, "1s"},
		{90540, "1m30.5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.ms); got != tt.want {
			t.Errorf("formatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}
