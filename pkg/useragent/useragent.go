package useragent

import (
	"fmt"
	"math/rand"
	"strings"
)

// Chrome version ranges the generated user agents are drawn from.
const (
	MinMajor = 122
	MaxMajor = 128
	MinBuild = 6200
	MaxBuild = 6800
	MinPatch = 80
	MaxPatch = 200
)

var acceptLanguages = []string{"en-US,en;q=0.9", "en-GB,en;q=0.9"}

// Bundle is the browser identity presented by one session.
type Bundle struct {
	UserAgent      string
	AcceptLanguage string
	Locale         string
}

// Desktop returns a Windows Chrome identity with a randomized version and locale.
func Desktop(rng *rand.Rand) Bundle {
	major := between(rng, MinMajor, MaxMajor)
	build := between(rng, MinBuild, MaxBuild)
	patch := between(rng, MinPatch, MaxPatch)
	ua := fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.%d.%d Safari/537.36", major, build, patch)

	acceptLanguage := acceptLanguages[rng.Intn(len(acceptLanguages))]
	locale, _, _ := strings.Cut(acceptLanguage, ",")
	return Bundle{
		UserAgent:      ua,
		AcceptLanguage: acceptLanguage,
		Locale:         locale,
	}
}

func between(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}
