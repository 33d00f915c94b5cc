package pricing

import "testing"

func TestTotal(t *testing.T) {
	tests := []struct {
		name            string
		bottles         int
		exchangeBottles int
		pricePerBottle  int64
		want            int64
	}{
		{
			name:            "plain order",
			bottles:         3,
			exchangeBottles: 1,
			pricePerBottle:  120,
			want:            240,
		},
		{
			name:            "full exchange",
			bottles:         5,
			exchangeBottles: 5,
			pricePerBottle:  120,
			want:            0,
		},
		{
			name:            "exchange exceeds bottles clamps to zero",
			bottles:         2,
			exchangeBottles: 7,
			pricePerBottle:  120,
			want:            0,
		},
		{
			name:            "zero bottles",
			bottles:         0,
			exchangeBottles: 0,
			pricePerBottle:  120,
			want:            0,
		},
		{
			name:            "free bottles",
			bottles:         10,
			exchangeBottles: 4,
			pricePerBottle:  0,
			want:            0,
		},
		{
			name:            "scenario from pricing table",
			bottles:         10,
			exchangeBottles: 4,
			pricePerBottle:  120,
			want:            720,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Total(tt.bottles, tt.exchangeBottles, tt.pricePerBottle)
			if got != tt.want {
				t.Fatalf("Total(%d, %d, %d) = %d, want %d",
					tt.bottles, tt.exchangeBottles, tt.pricePerBottle, got, tt.want)
			}
			if got < 0 {
				t.Fatalf("Total returned negative amount: %d", got)
			}
		})
	}
}
