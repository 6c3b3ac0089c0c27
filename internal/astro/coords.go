// Package astro converts between the coordinate systems used by FRB catalogues.
package astro

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Galactic north pole and the galactic longitude of the celestial pole (J2000),
// following Carroll & Ostlie, An Introduction to Modern Astrophysics, eq. 24.16.
const (
	ngpRA  = 12.9406333 * 15
	ngpDec = 27.1282500
	ngpL   = 123.9320000
)

// PadSexagesimal appends ":00" until s has three colon separated fields.
// Catalogues regularly drop the seconds from positions.
func PadSexagesimal(s string) string {
	s = strings.TrimSpace(s)
	for strings.Count(s, ":") < 2 {
		s += ":00"
	}
	return s
}

// FracDeg converts a right ascension (hh:mm:ss) and declination (dd:mm:ss)
// to fractional degrees.
func FracDeg(ra, dec string) (float64, float64, error) {
	rh, rm, rs, _, err := splitSexagesimal(ra)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing right ascension %q: %w", ra, err)
	}
	dd, dm, ds, negative, err := splitSexagesimal(dec)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing declination %q: %w", dec, err)
	}

	raDeg := rh*15 + rm/4 + rs/240

	decDeg := math.Abs(dd) + dm/60 + ds/3600
	if negative {
		decDeg = -decDeg
	}
	return raDeg, decDeg, nil
}

// splitSexagesimal parses "a:b:c". The sign is taken from the leading
// character so that "-00:30:00" stays negative.
func splitSexagesimal(s string) (a, b, c float64, negative bool, err error) {
	s = PadSexagesimal(s)
	negative = strings.HasPrefix(s, "-")

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0, 0, false, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}

	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, false, err
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], negative, nil
}

// RaDecToGal converts equatorial coordinates in fractional degrees to galactic
// longitude and latitude. Longitude is returned in (-180, 180], latitude in
// [-90, 90].
//
// This is a closed-form approximation. It is less exact than a full
// astrometric transform but its errors are symmetric, which is what matters
// when working over whole populations.
func RaDecToGal(ra, dec float64) (gl, gb float64) {
	a := radians(ra)
	d := radians(dec)

	aNGP := radians(ngpRA)
	dNGP := radians(ngpDec)
	lNGP := radians(ngpL)

	sdNGP, cdNGP := math.Sincos(dNGP)
	sd, cd := math.Sincos(d)

	y := cd * math.Sin(a-aNGP)
	x := cdNGP*sd - sdNGP*cd*math.Cos(a-aNGP)
	gl = math.Mod(degrees(lNGP-math.Atan2(y, x)), 360)
	if gl < 0 {
		gl += 360
	}
	if gl > 180 {
		gl -= 360
	}

	sinB := sdNGP*sd + cdNGP*cd*math.Cos(a-aNGP)
	// rounding can push the argument just past ±1 at the poles
	sinB = math.Max(-1, math.Min(1, sinB))
	gb = degrees(math.Asin(sinB))
	return gl, gb
}

// SexagesimalToGal is FracDeg followed by RaDecToGal.
func SexagesimalToGal(ra, dec string) (raDeg, decDeg, gl, gb float64, err error) {
	raDeg, decDeg, err = FracDeg(ra, dec)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	gl, gb = RaDecToGal(raDeg, decDeg)
	return raDeg, decDeg, gl, gb, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
