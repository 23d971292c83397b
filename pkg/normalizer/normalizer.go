package normalizer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/finroute/finroute/pkg/models"
)

// Classification is deliberately first-match-wins over ordered, mutually
// exclusive rules. Identifier synthesis downstream assumes a single rule
// attributed the asset type, so do not replace this with a scored ensemble.

// cryptoPairs maps known crypto bases to their exchange trading pair.
var cryptoPairs = map[string]string{
	"BTC":   "BTCUSDT",
	"ETH":   "ETHUSDT",
	"SOL":   "SOLUSDT",
	"AVAX":  "AVAXUSDT",
	"MATIC": "MATICUSDT",
	"ADA":   "ADAUSDT",
	"DOT":   "DOTUSDT",
	"LINK":  "LINKUSDT",
	"UNI":   "UNIUSDT",
	"AAVE":  "AAVEUSDT",
	"XRP":   "XRPUSDT",
	"DOGE":  "DOGEUSDT",
}

// currencies is the ISO code table used to recognize 6-letter forex pairs.
var currencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "CHF": {}, "AUD": {},
	"CAD": {}, "NZD": {}, "SEK": {}, "NOK": {}, "SGD": {}, "HKD": {},
}

// indexEpics maps index symbols and their common ETF aliases to identifiers.
var indexEpics = map[string]string{
	"^GSPC":   "IX.D.SPTRD.DAILY.IP",
	"SPY":     "IX.D.SPTRD.DAILY.IP",
	"^IXIC":   "IX.D.NASDAQ.CASH.IP",
	"QQQ":     "IX.D.NASDAQ.CASH.IP",
	"^DJI":    "IX.D.DOW.DAILY.IP",
	"^RUT":    "IX.D.RUSSELL.DAILY.IP",
	"IWM":     "IX.D.RUSSELL.DAILY.IP",
	"^GDAXI":  "IX.D.DAX.DAILY.IP",
	"^FTSE":   "IX.D.FTSE.DAILY.IP",
	"^FCHI":   "IX.D.CAC.DAILY.IP",
	"^N225":   "IX.D.NIKKEI.DAILY.IP",
	"^HSI":    "IX.D.HANGSENG.DAILY.IP",
	"^VIX":    "IX.D.VIX.DAILY.IP",
	"VIX":     "IX.D.VIX.DAILY.IP",
	"DXY":     "IX.D.DOLLAR.DAILY.IP",
}

// commodityEpics maps futures symbols and word aliases to identifiers.
var commodityEpics = map[string]string{
	"GC=F":   "CS.D.USCGC.TODAY.IP",
	"GOLD":   "CS.D.USCGC.TODAY.IP",
	"SI=F":   "CS.D.USCSI.TODAY.IP",
	"SILVER": "CS.D.USCSI.TODAY.IP",
	"CL=F":   "CC.D.CL.USS.IP",
	"OIL":    "CC.D.CL.USS.IP",
	"BZ=F":   "CC.D.LCO.USS.IP",
	"BRENT":  "CC.D.LCO.USS.IP",
	"NG=F":   "CC.D.NG.USS.IP",
	"NATGAS": "CC.D.NG.USS.IP",
	"HG=F":   "MT.D.HG.Month1.IP",
	"COPPER": "MT.D.HG.Month1.IP",
}

// minorUnitRegions maps exchange suffixes whose native market quotes in minor
// units to the divisor that converts to major units.
var minorUnitRegions = map[string]float64{
	"L":  100, // London, pence
	"JO": 100, // Johannesburg, cents
}

var (
	tickerPattern = regexp.MustCompile(`^[A-Z0-9]{1,5}(\.[A-Z]{1,2})?$`)
	forexPattern  = regexp.MustCompile(`^[A-Z]{6}$`)
)

// Normalize classifies raw input into a Symbol. Pure, no I/O: decoration is
// stripped first, then the ordered rules run, first match wins.
func Normalize(raw string) models.Symbol {
	clean := Strip(raw)

	sym := models.Symbol{
		Raw:          raw,
		Canonical:    clean,
		AssetType:    models.AssetUnknown,
		Confidence:   0,
		PriceDivisor: 1,
	}

	if clean == "" {
		return sym
	}

	// (a) known crypto table
	if pair, ok := cryptoPairs[clean]; ok {
		sym.AssetType = models.AssetCrypto
		sym.ProviderID = pair
		sym.Confidence = 1.0
		return sym
	}

	// (b) 6-letter currency pair, with or without the =X suffix
	if pair := strings.TrimSuffix(clean, "=X"); forexPattern.MatchString(pair) {
		base, quote := pair[:3], pair[3:]
		_, okBase := currencies[base]
		_, okQuote := currencies[quote]
		if okBase && okQuote {
			sym.Canonical = pair
			sym.AssetType = models.AssetForex
			sym.ProviderID = fmt.Sprintf("CS.D.%s.TODAY.IP", pair)
			sym.Confidence = 0.95
			return sym
		}
	}

	// (c) known index / commodity alias tables
	if epic, ok := indexEpics[clean]; ok {
		sym.AssetType = models.AssetIndex
		sym.ProviderID = epic
		sym.Confidence = 0.95
		return sym
	}
	if epic, ok := commodityEpics[clean]; ok {
		sym.AssetType = models.AssetCommodity
		sym.ProviderID = epic
		sym.Confidence = 0.95
		return sym
	}

	// (d) default: equity with a synthesized identifier
	if tickerPattern.MatchString(clean) {
		sym.AssetType = models.AssetEquity
		sym.Confidence = 0.5
		base := clean
		if i := strings.IndexByte(clean, '.'); i > 0 {
			region := clean[i+1:]
			if div, ok := minorUnitRegions[region]; ok {
				base = clean[:i]
				sym.PriceDivisor = div
				sym.ProviderID = fmt.Sprintf("UA.D.%s.DAILY.%s.IP", base, region)
				return sym
			}
		}
		sym.ProviderID = fmt.Sprintf("UA.D.%s.DAILY.IP", base)
		return sym
	}

	// Unclassifiable: caller must short-circuit without any provider call.
	return sym
}

// Strip removes decoration: surrounding whitespace, a leading cashtag and
// casing. Normalize(raw) == Normalize(Strip(raw)) for all inputs.
func Strip(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "$")
	return strings.TrimSpace(s)
}
