package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"efpmachine/internal/model"
)

func f(v float64) *float64 { return &v }

func TestIsWorsening_Bid(t *testing.T) {
	tests := []struct {
		name     string
		old, new *float64
		want     bool
	}{
		{"higher bid improves", f(9.0), f(9.5), false},
		{"lower bid worsens", f(9.5), f(9.0), true},
		{"negative to positive improves", f(-1.0), f(2.0), false},
		{"positive to negative worsens", f(2.0), f(-1.0), true},
		{"both negative, higher improves", f(-3.0), f(-2.0), false},
		{"both negative, lower worsens", f(-2.0), f(-3.0), true},
		{"missing old is unknown, never worsening", nil, f(9.0), false},
		{"missing new is unknown, never worsening", f(9.0), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWorsening(tt.old, tt.new, SideBid))
		})
	}
}

func TestIsWorsening_Offer(t *testing.T) {
	tests := []struct {
		name     string
		old, new *float64
		want     bool
	}{
		{"lower offer improves", f(9.5), f(9.0), false},
		{"higher offer worsens", f(9.0), f(9.5), true},
		{"positive to negative improves", f(2.0), f(-1.0), false},
		{"negative to positive worsens", f(-1.0), f(2.0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWorsening(tt.old, tt.new, SideOffer))
		})
	}
}

func TestIsImprovement_Unknown(t *testing.T) {
	assert.Equal(t, Unknown, IsImprovement(nil, nil, SideBid))
	assert.Equal(t, Unknown, IsImprovement(f(1), f(2), Side("mid")))
	assert.False(t, Unknown.IsTrue())
}

func TestRequiresCashRef(t *testing.T) {
	assert.True(t, RequiresCashRef(nil))
	assert.False(t, RequiresCashRef(f(5481)))
}

func TestWatchpoint(t *testing.T) {
	line := model.PriceLine{
		IndexName: "SX5E",
		Bid:       f(9.375),
		Offer:     f(9.625),
		CashRef:   f(5481),
	}

	t.Run("within threshold", func(t *testing.T) {
		theo := func(string, float64, float64, float64) (*float64, *float64) {
			return f(9.4), f(9.6)
		}
		assert.False(t, Watchpoint(line, theo))
	})

	t.Run("bid deviates", func(t *testing.T) {
		theo := func(string, float64, float64, float64) (*float64, *float64) {
			return f(10.5), f(9.6)
		}
		assert.True(t, Watchpoint(line, theo))
	})

	t.Run("offer deviates", func(t *testing.T) {
		theo := func(string, float64, float64, float64) (*float64, *float64) {
			return f(9.4), f(11.0)
		}
		assert.True(t, Watchpoint(line, theo))
	})

	t.Run("theory declines to price", func(t *testing.T) {
		theo := func(string, float64, float64, float64) (*float64, *float64) {
			return nil, nil
		}
		assert.False(t, Watchpoint(line, theo))
	})

	t.Run("missing inputs", func(t *testing.T) {
		bare := model.PriceLine{IndexName: "SX5E", Bid: f(9.375)}
		theo := func(string, float64, float64, float64) (*float64, *float64) {
			return f(0), f(0)
		}
		assert.False(t, Watchpoint(bare, theo))
		assert.False(t, Watchpoint(line, nil))
	})
}

func TestFormatRecap(t *testing.T) {
	assert.Equal(t,
		"SX5E EFP traded at 9.50 in 25 lots vs SX5E cash 5481.0",
		FormatRecap("SX5E", 9.5, 25, f(5481)))
	assert.Equal(t,
		"SX5E EFP traded at 9.50 in 25 lots vs SX5E cash 5481.25",
		FormatRecap("SX5E", 9.5, 25, f(5481.25)))
	assert.Equal(t,
		"DAX EFP traded at 41.00 in 10 lots vs DAX cash N/A",
		FormatRecap("DAX", 41, 10, nil))
}

func TestFormatRun(t *testing.T) {
	lines := []model.PriceLine{
		{IndexName: "DAX", Bid: f(41), Offer: f(44), CashRef: f(24308)},
		{IndexName: "SX5E", Bid: f(9.375), Offer: f(9.625), CashRef: f(5481)},
	}
	got := FormatRun(lines)
	assert.Equal(t, "EFP’s\nSX5E 9.375/9.625 5481\nDAX 41/44 24308", got)
}

func TestSortRun(t *testing.T) {
	lines := []model.PriceLine{
		{IndexName: "ZZZ"},
		{IndexName: "SX7E"},
		{IndexName: "SX5E"},
		{IndexName: "CAC"},
	}
	SortRun(lines)
	names := make([]string, len(lines))
	for i, l := range lines {
		names[i] = l.IndexName
	}
	assert.Equal(t, []string{"SX5E", "CAC", "SX7E", "ZZZ"}, names)
}

func TestMidOffsetTheoretical(t *testing.T) {
	theoBid, theoOffer := MidOffsetTheoretical("SX5E", 9.0, 10.0, 5000)
	assert.InDelta(t, 8.5, *theoBid, 1e-9)
	assert.InDelta(t, 10.5, *theoOffer, 1e-9)
}
