package match

import (
	"testing"
	"time"
)

func TestNextSendTime(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	cases := []struct {
		name     string
		detected time.Time
		want     time.Time
	}{
		{
			name:     "before cutoff goes to same day",
			detected: time.Date(2026, 1, 10, 8, 59, 0, 0, seoul),
			want:     time.Date(2026, 1, 10, 9, 0, 0, 0, seoul),
		},
		{
			name:     "after cutoff goes to next day",
			detected: time.Date(2026, 1, 10, 9, 1, 0, 0, seoul),
			want:     time.Date(2026, 1, 11, 9, 0, 0, 0, seoul),
		},
		{
			name:     "exactly at cutoff goes to next day",
			detected: time.Date(2026, 1, 10, 9, 0, 0, 0, seoul),
			want:     time.Date(2026, 1, 11, 9, 0, 0, 0, seoul),
		},
		{
			name:     "other zone converts before comparing",
			detected: time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC), // 10:00 KST
			want:     time.Date(2026, 1, 11, 9, 0, 0, 0, seoul),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextSendTime(tc.detected, 9, 0, seoul)
			if !got.Equal(tc.want) {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
		})
	}
}
