package normalizer

import (
	"testing"

	"github.com/finroute/finroute/pkg/models"
)

func TestNormalize_StripIdempotent(t *testing.T) {
	raws := []string{"$AAPL", "  btc ", "$eurusd=x", "\t^GSPC ", "$GC=F"}
	for _, raw := range raws {
		direct := Normalize(raw)
		stripped := Normalize(Strip(raw))
		if direct.Canonical != stripped.Canonical ||
			direct.AssetType != stripped.AssetType ||
			direct.ProviderID != stripped.ProviderID ||
			direct.Confidence != stripped.Confidence {
			t.Errorf("Normalize(%q) != Normalize(Strip(%q)): %+v vs %+v", raw, raw, direct, stripped)
		}
	}
}

func TestNormalize_Classification(t *testing.T) {
	cases := []struct {
		raw        string
		want       models.AssetType
		confidence float64
		providerID string
	}{
		{"BTC", models.AssetCrypto, 1.0, "BTCUSDT"},
		{"$eth", models.AssetCrypto, 1.0, "ETHUSDT"},
		{"EURUSD", models.AssetForex, 0.95, "CS.D.EURUSD.TODAY.IP"},
		{"EURUSD=X", models.AssetForex, 0.95, "CS.D.EURUSD.TODAY.IP"},
		{"usdjpy", models.AssetForex, 0.95, "CS.D.USDJPY.TODAY.IP"},
		{"^GSPC", models.AssetIndex, 0.95, "IX.D.SPTRD.DAILY.IP"},
		{"SPY", models.AssetIndex, 0.95, "IX.D.SPTRD.DAILY.IP"},
		{"GOLD", models.AssetCommodity, 0.95, "CS.D.USCGC.TODAY.IP"},
		{"CL=F", models.AssetCommodity, 0.95, "CC.D.CL.USS.IP"},
		{"AAPL", models.AssetEquity, 0.5, "UA.D.AAPL.DAILY.IP"},
		{"$WMT", models.AssetEquity, 0.5, "UA.D.WMT.DAILY.IP"},
		{"BRK.B", models.AssetEquity, 0.5, "UA.D.BRK.B.DAILY.IP"},
	}
	for _, c := range cases {
		t.Run(c.raw, func(t *testing.T) {
			got := Normalize(c.raw)
			if got.AssetType != c.want {
				t.Errorf("AssetType = %v; want %v", got.AssetType, c.want)
			}
			if got.Confidence != c.confidence {
				t.Errorf("Confidence = %v; want %v", got.Confidence, c.confidence)
			}
			if got.ProviderID != c.providerID {
				t.Errorf("ProviderID = %q; want %q", got.ProviderID, c.providerID)
			}
		})
	}
}

func TestNormalize_FirstMatchWins(t *testing.T) {
	// BTC is ticker-shaped but must classify crypto, not fall through to
	// equity.
	got := Normalize("BTC")
	if got.AssetType != models.AssetCrypto || got.Confidence != 1.0 {
		t.Fatalf("BTC classified %v (conf %v); want crypto 1.0", got.AssetType, got.Confidence)
	}

	// GOOGL is six letters but not a valid currency pair.
	got = Normalize("GOOGL")
	if got.AssetType != models.AssetEquity {
		t.Fatalf("GOOGL classified %v; want equity", got.AssetType)
	}
}

func TestNormalize_MinorUnitRegion(t *testing.T) {
	got := Normalize("VOD.L")
	if got.AssetType != models.AssetEquity {
		t.Fatalf("VOD.L classified %v; want equity", got.AssetType)
	}
	if got.PriceDivisor != 100 {
		t.Errorf("PriceDivisor = %v; want 100", got.PriceDivisor)
	}
	if got.ProviderID != "UA.D.VOD.DAILY.L.IP" {
		t.Errorf("ProviderID = %q; want region-flagged identifier", got.ProviderID)
	}

	// US listings stay in major units.
	if got := Normalize("AAPL"); got.PriceDivisor != 1 {
		t.Errorf("AAPL PriceDivisor = %v; want 1", got.PriceDivisor)
	}
}

func TestNormalize_Unknown(t *testing.T) {
	for _, raw := range []string{"", "   ", "$", "INVALID$$", "TOOLONGSYMBOL", "foo bar"} {
		got := Normalize(raw)
		if !got.Unknown() {
			t.Errorf("Normalize(%q) = %+v; want unknown with confidence 0", raw, got)
		}
		if got.Confidence != 0 {
			t.Errorf("Normalize(%q).Confidence = %v; want 0", raw, got.Confidence)
		}
	}
}
