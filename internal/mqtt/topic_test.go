package mqtt

import "testing"

func TestStationTopic(t *testing.T) {
	if got := StationTopic("station-1"); got != "weather/readings/station-1" {
		t.Errorf("StationTopic = %q", got)
	}
}

func TestStationFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"weather/readings/station-1", "station-1"},
		{"weather/readings/", ""},
		{"weather/readings", ""},
		{"weather/readings/station-1/extra", ""},
		{"other/topic", ""},
	}
	for _, tt := range tests {
		if got := StationFromTopic(tt.topic); got != tt.want {
			t.Errorf("StationFromTopic(%q) = %q; want %q", tt.topic, got, tt.want)
		}
	}
}
