package icc

import (
	"math"

	"github.com/colorforge/go-colord/color"
)

// Warnings scans the loaded profile for the defects real-world profiles
// commonly ship with. The scan is cached until the profile is mutated.
func (p *Profile) Warnings() []Warning {
	if p.warnings != nil {
		return append([]Warning(nil), p.warnings...)
	}
	var warnings []Warning
	add := func(w Warning) { warnings = append(warnings, w) }

	if s, err := p.Description(""); err != nil || s == "" {
		add(WarnDescriptionMissing)
	}
	if s, err := p.Copyright(""); err != nil || s == "" {
		add(WarnCopyrightMissing)
	}

	red, green, blue, err := p.Primaries()
	if err == nil {
		for _, c := range []color.XYZ{red, green, blue} {
			if c.X <= 0 || c.Y <= 0 || c.Z < 0 {
				add(WarnPrimariesInvalid)
				break
			}
		}
	}
	white, whiteErr := p.WhitePoint()
	if whiteErr == nil {
		if white.Y < 0.9 || white.Y > 1.1 || white.X <= 0 || white.Z <= 0 {
			add(WarnWhitepointInvalid)
		} else {
			lab := color.XYZToLabWithWhite(white, white)
			if math.Abs(lab.A) > 2.0 || math.Abs(lab.B) > 2.0 {
				add(WarnScumDot)
			}
		}
	}

	warnings = append(warnings, p.grayAxisWarnings()...)

	if curve, err := p.VCGT(256); err == nil {
		if !rgbArrayMonotonic(curve) {
			add(WarnVcgtNonMonotonic)
		}
	}

	p.warnings = warnings
	return append([]Warning(nil), warnings...)
}

// grayAxisWarnings pushes a 16-step neutral ramp through the profile's
// forward model and checks the result stays gray, monotonic and roughly
// linear in luminance.
func (p *Profile) grayAxisWarnings() []Warning {
	fwd, err := newForwardModel(p)
	if err != nil {
		// nothing to sample, only a defect for display profiles
		if p.kind == KindDisplay {
			return []Warning{WarnGrayAxisEmpty}
		}
		return nil
	}
	var warnings []Warning
	const steps = 16
	white := fwd.apply(color.RGB{R: 1, G: 1, B: 1})

	prevY := -1.0
	monotonic := true
	maxChroma := 0.0
	maxLinDev := 0.0
	for i := 0; i <= steps; i++ {
		v := float64(i) / steps
		out := fwd.apply(color.RGB{R: v, G: v, B: v})
		if out.Y < prevY {
			monotonic = false
		}
		prevY = out.Y
		if out.Y > 1e-6 && white.Y > 1e-6 {
			lab := color.XYZToLabWithWhite(out, white)
			chroma := math.Hypot(lab.A, lab.B)
			if chroma > maxChroma {
				maxChroma = chroma
			}
		}
		// the relative luminance of a neutral level should track the
		// averaged tone curve; channel disagreement shows up here
		expect := fwd.evalTRC(v)
		actual := out.Y / math.Max(white.Y, 1e-9)
		if dev := math.Abs(actual - expect); dev > maxLinDev {
			maxLinDev = dev
		}
	}
	if maxChroma > 6.0 {
		warnings = append(warnings, WarnGrayAxisInvalid)
	}
	if !monotonic {
		warnings = append(warnings, WarnGrayAxisNonMonotonic)
	}
	if maxLinDev > 0.05 {
		warnings = append(warnings, WarnGrayAxisNonLinear)
	}
	return warnings
}

func rgbArrayMonotonic(curve color.RGBArray) bool {
	for i := 1; i < len(curve); i++ {
		if curve[i].R < curve[i-1].R ||
			curve[i].G < curve[i-1].G ||
			curve[i].B < curve[i-1].B {
			return false
		}
	}
	return true
}
