package station

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
)

// geocoder keeps its key in a package variable.
var geocoderMu sync.Mutex

// GoogleGeocoder reverse-geocodes with the Google Maps API.
type GoogleGeocoder struct {
	apiKey string
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey}
}

func (g *GoogleGeocoder) Zipcode(ctx context.Context, lat, lon float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	geocoderMu.Lock()
	geocoder.ApiKey = g.apiKey
	addresses, err := geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lon})
	geocoderMu.Unlock()
	if err != nil {
		return "", err
	}

	for _, a := range addresses {
		if zip := strings.TrimSpace(a.PostalCode); zip != "" {
			return zip, nil
		}
	}
	return "", errors.New("no postal code for position")
}
