package providers

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/i474232898/station-dashboard/internal/weather"
)

var (
	reWind       = regexp.MustCompile(`^(\d{3}|VRB)(\d{2,3})(?:G(\d{2,3}))?(KT|MPS)$`)
	reWindVar    = regexp.MustCompile(`^\d{3}V\d{3}$`)
	reVisMeters  = regexp.MustCompile(`^(\d{4})(NDV)?$`)
	reVisMiles   = regexp.MustCompile(`^(\d{1,2})SM$`)
	reCloud      = regexp.MustCompile(`^(FEW|SCT|BKN|OVC|VV)(\d{3}|///)(CB|TCU)?$`)
	reTemp       = regexp.MustCompile(`^(M?\d{2})/(M?\d{2})?$`)
	reQNH        = regexp.MustCompile(`^Q(\d{4})$`)
	reAltimeter  = regexp.MustCompile(`^A(\d{4})$`)
	rePhenomenon = regexp.MustCompile(`^(\+|-|VC)?(MI|BC|PR|DR|BL|SH|TS|FZ)?(DZ|RA|SN|SG|IC|PL|GR|GS|UP|BR|FG|FU|VA|DU|SA|HZ|PY|PO|SQ|FC|SS|DS)*$`)
	reObsTime    = regexp.MustCompile(`^\d{6}Z$`)
)

const (
	mpsToKt    = 1.943844
	mileToM    = 1609.344
	inHgToHPa  = 33.8639
	visMaxM    = 10000
	metarStart = "METAR"
)

// DecodeMetar extracts the main groups of a raw METAR report. Unknown
// groups are ignored; decoding stops at the remarks or trend section.
func DecodeMetar(raw string) weather.MetarDecoded {
	var d weather.MetarDecoded

	tokens := strings.Fields(strings.TrimSuffix(strings.TrimSpace(raw), "="))
	if len(tokens) > 0 && (tokens[0] == metarStart || tokens[0] == "SPECI") {
		tokens = tokens[1:]
	}
	// Station identifier.
	if len(tokens) > 0 {
		tokens = tokens[1:]
	}

	for _, tok := range tokens {
		switch tok {
		case "RMK", "TEMPO", "BECMG", "NOSIG":
			return d
		case "AUTO", "COR", "NIL":
			continue
		case "CAVOK":
			d.CAVOK = true
			d.VisibilityM = intPtr(visMaxM)
			continue
		case "NSC", "NCD", "SKC", "CLR":
			d.Clouds = append(d.Clouds, weather.Cloud{Cover: tok})
			continue
		}

		switch {
		case reObsTime.MatchString(tok):
		case reWind.MatchString(tok):
			decodeWind(&d, reWind.FindStringSubmatch(tok))
		case reWindVar.MatchString(tok):
			d.WindVariable = true
		case reVisMeters.MatchString(tok):
			v, _ := strconv.Atoi(reVisMeters.FindStringSubmatch(tok)[1])
			if v == 9999 {
				v = visMaxM
			}
			d.VisibilityM = intPtr(v)
		case reVisMiles.MatchString(tok):
			v, _ := strconv.Atoi(reVisMiles.FindStringSubmatch(tok)[1])
			d.VisibilityM = intPtr(int(math.Round(float64(v) * mileToM)))
		case reCloud.MatchString(tok):
			m := reCloud.FindStringSubmatch(tok)
			c := weather.Cloud{Cover: m[1], Type: m[3]}
			if h, err := strconv.Atoi(m[2]); err == nil {
				c.BaseFt = intPtr(h * 100)
			}
			d.Clouds = append(d.Clouds, c)
		case reTemp.MatchString(tok):
			m := reTemp.FindStringSubmatch(tok)
			d.TempC = metarTemp(m[1])
			d.DewPointC = metarTemp(m[2])
		case reQNH.MatchString(tok):
			v, _ := strconv.ParseFloat(reQNH.FindStringSubmatch(tok)[1], 64)
			d.QNHhPa = &v
		case reAltimeter.MatchString(tok):
			v, _ := strconv.ParseFloat(reAltimeter.FindStringSubmatch(tok)[1], 64)
			hpa := math.Round(v / 100 * inHgToHPa)
			d.QNHhPa = &hpa
		case rePhenomenon.MatchString(tok):
			d.Weather = append(d.Weather, tok)
		}
	}
	return d
}

func decodeWind(d *weather.MetarDecoded, m []string) {
	speed, _ := strconv.Atoi(m[2])
	gust := -1
	if m[3] != "" {
		gust, _ = strconv.Atoi(m[3])
	}
	if m[4] == "MPS" {
		speed = int(math.Round(float64(speed) * mpsToKt))
		if gust >= 0 {
			gust = int(math.Round(float64(gust) * mpsToKt))
		}
	}
	if m[1] == "VRB" {
		d.WindVariable = true
	} else {
		dir, _ := strconv.Atoi(m[1])
		d.WindDirDeg = intPtr(dir)
	}
	d.WindSpeedKt = intPtr(speed)
	if gust >= 0 {
		d.WindGustKt = intPtr(gust)
	}
}

func metarTemp(s string) *float64 {
	if s == "" {
		return nil
	}
	neg := strings.HasPrefix(s, "M")
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, "M"), 64)
	if err != nil {
		return nil
	}
	if neg {
		v = -v
	}
	return &v
}

func intPtr(v int) *int {
	return &v
}
