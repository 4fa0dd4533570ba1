package match

import "testing"

func TestExtractYear(t *testing.T) {
	tests := []struct {
		name             string
		text             string
		expectedYear     int
		ignoreResolution bool
		want             int
		wantOK           bool
	}{
		{
			name:   "plain year",
			text:   "Dune (2021)",
			want:   2021,
			wantOK: true,
		},
		{
			name:             "resolution stripped",
			text:             "Dune 2021 2160p",
			ignoreResolution: true,
			want:             2021,
			wantOK:           true,
		},
		{
			name:   "largest year wins",
			text:   "Wonder Woman 1984 2020",
			want:   2020,
			wantOK: true,
		},
		{
			name:         "trusted source wins",
			text:         "Wonder Woman 1984",
			expectedYear: 2020,
			want:         2020,
			wantOK:       true,
		},
		{
			name:   "no year",
			text:   "Dark Knight",
			want:   0,
			wantOK: false,
		},
		{
			name:   "out of range ignored",
			text:   "Movie 1776",
			want:   0,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractYear(tt.text, tt.expectedYear, tt.ignoreResolution)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ExtractYear(%q) = (%d, %v), want (%d, %v)", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
