// Package theme derives the dock page's color theme from the host
// application's palette. Text colors are picked for sRGB contrast against
// the page backgrounds; chrome colors are derived by blending toward
// white or black depending on HSL lightness.
package theme

import (
	"math"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Contrast thresholds and blend ratios for derivation.
const (
	textMinContrast  = 4.5
	mutedMinContrast = 2.4
	mutedBlendRatio  = 0.35
	borderBlendRatio = 0.10
	scrollBlendRatio = 0.15
)

// Palette is the slice of the host palette the derivation reads,
// as CSS hex colors. Empty slots are treated as absent.
type Palette struct {
	Window          string // general background
	Base            string // input/content surface
	Button          string // panel background
	WindowText      string
	Text            string
	ButtonText      string
	PlaceholderText string
	Highlight       string // accent
}

// Empty reports whether the palette carries no colors at all.
func (p Palette) Empty() bool {
	return p.Window == "" && p.Base == "" && p.Button == "" &&
		p.WindowText == "" && p.Text == "" && p.ButtonText == "" &&
		p.PlaceholderText == "" && p.Highlight == ""
}

// Theme is the derived slot set delivered to the dock page.
type Theme struct {
	BG        string
	Surface   string
	Panel     string
	Text      string
	TextMuted string
	Accent    string
	Border    string
	Scrollbar string
}

// Signature is a change-detection key over every slot.
func (t Theme) Signature() string {
	return strings.Join([]string{
		t.BG, t.Surface, t.Panel, t.Text, t.TextMuted, t.Accent, t.Border, t.Scrollbar,
	}, "|")
}

// Payload renders the theme as the JSON object merged under
// payload.theme of a status_snapshot envelope.
func (t Theme) Payload() map[string]any {
	return map[string]any{
		"bg":        t.BG,
		"surface":   t.Surface,
		"panel":     t.Panel,
		"text":      t.Text,
		"textMuted": t.TextMuted,
		"accent":    t.Accent,
		"border":    t.Border,
		"scrollbar": t.Scrollbar,
	}
}

// Derive computes the theme from a palette. Returns false when the
// palette is empty (no host yet).
func Derive(p Palette) (Theme, bool) {
	if p.Empty() {
		return Theme{}, false
	}

	bg := parseOrBlack(p.Window)
	surface := parseOrBlack(p.Base)
	panel := parseOrBlack(p.Button)
	backgrounds := []colorful.Color{bg, surface, panel}

	candidates := parseAll(p.WindowText, p.Text, p.ButtonText)
	text := pickReadableTextColor(candidates, backgrounds, textMinContrast)

	muted, haveMuted := parse(p.PlaceholderText)
	if !haveMuted {
		muted = text
	}
	// Some host themes expose placeholder text with poor contrast; derive
	// a safer muted color from the text color in that case.
	if minContrastAgainst(muted, backgrounds) < mutedMinContrast {
		if relativeLuminance(text) < 0.5 {
			muted = blendTowardWhite(text, mutedBlendRatio)
		} else {
			muted = blendTowardBlack(text, mutedBlendRatio)
		}
	}

	return Theme{
		BG:        bg.Hex(),
		Surface:   surface.Hex(),
		Panel:     panel.Hex(),
		Text:      text.Hex(),
		TextMuted: muted.Hex(),
		Accent:    parseOrBlack(p.Highlight).Hex(),
		Border:    derivedAccentLike(bg, borderBlendRatio).Hex(),
		Scrollbar: derivedAccentLike(surface, scrollBlendRatio).Hex(),
	}, true
}

func parse(hex string) (colorful.Color, bool) {
	if hex == "" {
		return colorful.Color{}, false
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return colorful.Color{}, false
	}
	return c, true
}

func parseOrBlack(hex string) colorful.Color {
	c, ok := parse(hex)
	if !ok {
		return colorful.Color{}
	}
	return c
}

func parseAll(hexes ...string) []colorful.Color {
	out := make([]colorful.Color, 0, len(hexes))
	for _, h := range hexes {
		if c, ok := parse(h); ok {
			out = append(out, c)
		}
	}
	return out
}

func blendTowardWhite(c colorful.Color, ratio float64) colorful.Color {
	return c.BlendRgb(colorful.Color{R: 1, G: 1, B: 1}, clamp01(ratio))
}

func blendTowardBlack(c colorful.Color, ratio float64) colorful.Color {
	return c.BlendRgb(colorful.Color{}, clamp01(ratio))
}

// derivedAccentLike blends toward white on dark bases and toward black on
// light ones, keyed off HSL lightness.
func derivedAccentLike(base colorful.Color, ratio float64) colorful.Color {
	_, _, l := base.Hsl()
	if l < 0.5 {
		return blendTowardWhite(base, ratio)
	}
	return blendTowardBlack(base, ratio)
}

func srgbToLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

func relativeLuminance(c colorful.Color) float64 {
	return 0.2126*srgbToLinear(c.R) + 0.7152*srgbToLinear(c.G) + 0.0722*srgbToLinear(c.B)
}

// ContrastRatio is the WCAG contrast ratio between two colors.
func ContrastRatio(a, b colorful.Color) float64 {
	la := relativeLuminance(a)
	lb := relativeLuminance(b)
	hi := math.Max(la, lb)
	lo := math.Min(la, lb)
	return (hi + 0.05) / (lo + 0.05)
}

func minContrastAgainst(fg colorful.Color, backgrounds []colorful.Color) float64 {
	if len(backgrounds) == 0 {
		return 0
	}
	best := math.Inf(1)
	for _, bg := range backgrounds {
		best = math.Min(best, ContrastRatio(fg, bg))
	}
	return best
}

// pickReadableTextColor returns the first candidate reaching minRatio
// against every background. If none qualifies, the better of pure black
// or pure white wins over the best candidate.
func pickReadableTextColor(candidates, backgrounds []colorful.Color, minRatio float64) colorful.Color {
	for _, c := range candidates {
		if minContrastAgainst(c, backgrounds) >= minRatio {
			return c
		}
	}
	black := colorful.Color{}
	white := colorful.Color{R: 1, G: 1, B: 1}
	if minContrastAgainst(black, backgrounds) >= minContrastAgainst(white, backgrounds) {
		return black
	}
	return white
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
