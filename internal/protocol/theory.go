package protocol

import "math"

// MidOffsetTheoretical is a simple built-in TheoreticalFunc: the quote mid
// shifted by a cash-referenced offset on each side. Real pricing models are
// plugged in through TheoreticalFunc; this one keeps watchpoints live when
// none is configured.
func MidOffsetTheoretical(_ string, bid, offer, cashRef float64) (*float64, *float64) {
	mid := (bid + offer) / 2
	offset := math.Round(cashRef*0.0002*100) / 100
	theoBid := math.Round((mid-offset)*100) / 100
	theoOffer := math.Round((mid+offset)*100) / 100
	return &theoBid, &theoOffer
}
