package uvdata

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pol is an AIPS polarisation number.
type Pol int

const (
	PolI Pol = 1
	PolQ Pol = 2
	PolU Pol = 3
	PolV Pol = 4

	PolRR Pol = -1
	PolLL Pol = -2
	PolRL Pol = -3
	PolLR Pol = -4

	PolXX Pol = -5
	PolYY Pol = -6
	PolXY Pol = -7
	PolYX Pol = -8
)

var (
	polNames = map[Pol]string{
		PolI: "pI", PolQ: "pQ", PolU: "pU", PolV: "pV",
		PolRR: "rr", PolLL: "ll", PolRL: "rl", PolLR: "lr",
		PolXX: "xx", PolYY: "yy", PolXY: "xy", PolYX: "yx",
	}

	polNums = map[string]Pol{
		"pi": PolI, "pq": PolQ, "pu": PolU, "pv": PolV,
		"i": PolI, "q": PolQ, "u": PolU, "v": PolV,
		"rr": PolRR, "ll": PolLL, "rl": PolRL, "lr": PolLR,
		"xx": PolXX, "yy": PolYY, "xy": PolXY, "yx": PolYX,
		"ee": PolXX, "nn": PolYY, "en": PolXY, "ne": PolYX,
	}
)

// PolStrToNum parses a polarisation name, case-insensitively.
func PolStrToNum(s string) (Pol, error) {
	p, ok := polNums[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("uvdata: unknown polarization %q", s)
	}
	return p, nil
}

// PolNumToStr returns the canonical name of p.
func PolNumToStr(p Pol) (string, error) {
	s, ok := polNames[p]
	if !ok {
		return "", fmt.Errorf("uvdata: unknown polarization number %d", p)
	}
	return s, nil
}

func (p Pol) String() string {
	if s, ok := polNames[p]; ok {
		return s
	}
	return fmt.Sprintf("pol(%d)", int(p))
}

// Valid reports whether p is a known AIPS polarisation.
func (p Pol) Valid() bool {
	_, ok := polNames[p]
	return ok
}

// IsPseudoStokes reports whether p is one of pI, pQ, pU, pV.
func (p Pol) IsPseudoStokes() bool {
	return p >= PolI && p <= PolV
}

// UnmarshalYAML accepts either a polarisation name or its number.
func (p *Pol) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		if !Pol(n).Valid() {
			return fmt.Errorf("uvdata.Pol: unknown polarization number %d", n)
		}
		*p = Pol(n)
		return nil
	}
	v, err := PolStrToNum(value.Value)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p Pol) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}
