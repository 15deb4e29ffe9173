package uvpspec

import (
	"fmt"

	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// maxAnt is the largest antenna number the integer encodings can carry.
const maxAnt = 999

// AntnumsToBl encodes a baseline as ant1*1e3 + ant2.
func AntnumsToBl(ap uvdata.Antpair) (int64, error) {
	if err := checkAnts(ap); err != nil {
		return 0, err
	}
	return int64(ap.Ant1)*1_000 + int64(ap.Ant2), nil
}

// BlToAntnums decodes a baseline integer.
func BlToAntnums(bl int64) uvdata.Antpair {
	return uvdata.Antpair{Ant1: int(bl / 1_000), Ant2: int(bl % 1_000)}
}

// AntnumsToBlpair encodes a baseline pair as
// ant1*1e9 + ant2*1e6 + ant3*1e3 + ant4.
func AntnumsToBlpair(bl1, bl2 uvdata.Antpair) (int64, error) {
	if err := checkAnts(bl1); err != nil {
		return 0, err
	}
	if err := checkAnts(bl2); err != nil {
		return 0, err
	}
	return int64(bl1.Ant1)*1_000_000_000 + int64(bl1.Ant2)*1_000_000 +
		int64(bl2.Ant1)*1_000 + int64(bl2.Ant2), nil
}

// BlpairToAntnums decodes a baseline pair integer.
func BlpairToAntnums(blp int64) (uvdata.Antpair, uvdata.Antpair) {
	return uvdata.Antpair{Ant1: int(blp / 1_000_000_000), Ant2: int(blp / 1_000_000 % 1_000)},
		uvdata.Antpair{Ant1: int(blp / 1_000 % 1_000), Ant2: int(blp % 1_000)}
}

// BlpairToBls returns the baseline integers of a baseline pair.
func BlpairToBls(blp int64) (int64, int64) {
	return blp / 1_000_000, blp % 1_000_000
}

// ConjBlpair swaps the baselines of a pair.
func ConjBlpair(blp int64) int64 {
	bl1, bl2 := BlpairToBls(blp)
	return bl2*1_000_000 + bl1
}

func checkAnts(ap uvdata.Antpair) error {
	if ap.Ant1 < 0 || ap.Ant2 < 0 || ap.Ant1 > maxAnt || ap.Ant2 > maxAnt {
		return fmt.Errorf("uvpspec: antenna numbers of %s outside [0, %d]", ap, maxAnt)
	}
	return nil
}

// PolpairTupleToInt encodes a polarisation pair as
// (p1 + 20) * 100 + (p2 + 20).
func PolpairTupleToInt(pp [2]uvdata.Pol) int {
	return (int(pp[0])+20)*100 + int(pp[1]) + 20
}

// PolpairIntToTuple decodes a polarisation pair integer.
func PolpairIntToTuple(v int) [2]uvdata.Pol {
	return [2]uvdata.Pol{uvdata.Pol(v/100 - 20), uvdata.Pol(v%100 - 20)}
}

// PolpairString formats a polarisation pair as "xx,yy".
func PolpairString(v int) string {
	pp := PolpairIntToTuple(v)
	return pp[0].String() + "," + pp[1].String()
}
