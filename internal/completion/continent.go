package completion

// continentMap assigns level-1 ISO 3166-1 alpha-2 codes to continent buckets
// for the coverage browser.
var continentMap = map[string][]string{
	"EU": {"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR", "HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK", "SI", "ES", "SE", "GB", "NO", "CH", "IS", "LI", "MC", "SM", "VA", "AD", "ME", "RS", "BA", "MK", "AL", "XK"},
	"AF": {"DZ", "AO", "BJ", "BW", "BF", "BI", "CM", "CV", "CF", "TD", "KM", "CG", "CD", "CI", "DJ", "EG", "GQ", "ER", "ET", "GA", "GM", "GH", "GN", "GW", "KE", "LS", "LR", "LY", "MG", "MW", "ML", "MR", "MU", "YT", "MA", "MZ", "NA", "NE", "NG", "RE", "RW", "SH", "ST", "SN", "SC", "SL", "SO", "ZA", "SS", "SD", "SZ", "TZ", "TG", "TN", "UG", "ZM", "ZW"},
	"AS": {"AF", "AM", "AZ", "BH", "BD", "BT", "BN", "KH", "CN", "GE", "HK", "IN", "ID", "IR", "IQ", "IL", "JP", "JO", "KZ", "KW", "KG", "LA", "LB", "MO", "MY", "MV", "MN", "MM", "NP", "KP", "OM", "PK", "PS", "PH", "QA", "SA", "SG", "KR", "LK", "SY", "TW", "TJ", "TH", "TL", "TR", "TM", "AE", "UZ", "VN", "YE"},
	"NA": {"CA", "US", "MX"},
	"CA": {"BZ", "CR", "SV", "GT", "HN", "NI", "PA"},
	"SA": {"AR", "BO", "BR", "CL", "CO", "EC", "FK", "GF", "GY", "PY", "PE", "SR", "UY", "VE"},
	"OC": {"AS", "AU", "CK", "FJ", "PF", "GU", "KI", "MH", "FM", "NR", "NC", "NZ", "NU", "NF", "MP", "PW", "PG", "PN", "WS", "SB", "TK", "TO", "TV", "VU", "WF"},
}

// ContinentFor returns the continent bucket for a country code, or "" when
// the code is not mapped.
func ContinentFor(isoCode string) string {
	for continent, countries := range continentMap {
		for _, c := range countries {
			if c == isoCode {
				return continent
			}
		}
	}
	return ""
}

// GroupByContinent arranges country codes into continent buckets and region
// codes into per-country "Region_CC" buckets. Empty buckets are dropped.
func GroupByContinent(countries, regions []AdminAreaOut) map[string][]string {
	result := map[string][]string{}
	for _, country := range countries {
		continent := ContinentFor(country.ISOCode)
		if continent == "" {
			continue
		}
		result[continent] = append(result[continent], country.ISOCode)
	}
	for _, region := range regions {
		key := "Region_" + region.ParentISOCode
		result[key] = append(result[key], region.ISOCode)
	}
	return result
}
