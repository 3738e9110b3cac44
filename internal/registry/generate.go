package registry

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/war-room/internal/game"
)

// GenConfig holds skirmish generation parameters.
type GenConfig struct {
	Seed        int64
	Nations     []string
	PerNation   int     // Territories dealt to each nation
	Richness    float64 // Peak yield per resource track
	EmbattledAt float64 // Fraction of the active yield kept while embattled
}

// DefaultGenConfig returns a four-nation skirmish.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:        42,
		Nations:     []string{"NORTH", "SOUTH", "EAST", "WEST"},
		PerNation:   5,
		Richness:    4,
		EmbattledAt: 0.5,
	}
}

// Generate builds a deterministic skirmish scenario. Territories sit on a
// ring and each resource track samples its own noise layer, so neighbouring
// territories have similar yields.
func Generate(cfg GenConfig) (*Scenario, error) {
	if len(cfg.Nations) == 0 || cfg.PerNation <= 0 {
		return nil, fmt.Errorf("generate skirmish: need nations and territories: %w", game.ErrInvalidArgument)
	}

	oilNoise := opensimplex.NewNormalized(cfg.Seed)
	ironNoise := opensimplex.NewNormalized(cfg.Seed + 1)
	osrNoise := opensimplex.NewNormalized(cfg.Seed + 2)

	s := &Scenario{
		Code:       fmt.Sprintf("SKIRMISH-%d", cfg.Seed),
		Name:       fmt.Sprintf("Skirmish %d", cfg.Seed),
		MaxPlayers: len(cfg.Nations),
		Nations:    append([]string(nil), cfg.Nations...),
	}

	total := len(cfg.Nations) * cfg.PerNation
	for i := 0; i < total; i++ {
		angle := 2 * math.Pi * float64(i) / float64(total)
		x, y := math.Cos(angle)*3, math.Sin(angle)*3

		active := game.Resources{
			Oil:  sample(oilNoise, x, y, cfg.Richness),
			Iron: sample(ironNoise, x, y, cfg.Richness),
			OSR:  sample(osrNoise, x, y, cfg.Richness),
		}
		code := fmt.Sprintf("T%02d", i+1)
		s.Territories = append(s.Territories, game.Territory{
			Code:      code,
			Name:      fmt.Sprintf("Territory %02d", i+1),
			Active:    active,
			Embattled: scale(active, cfg.EmbattledAt),
		})
		s.StartingControl = append(s.StartingControl, Control{
			Territory: code,
			Nation:    cfg.Nations[i/cfg.PerNation],
		})
	}

	if err := s.normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

func sample(noise opensimplex.Noise, x, y, peak float64) int64 {
	v := octaveNoise(noise, x, y, 3, 0.6, 0.5)
	return int64(math.Round(v * peak))
}

func scale(r game.Resources, f float64) game.Resources {
	return game.Resources{
		Oil:  int64(math.Floor(float64(r.Oil) * f)),
		Iron: int64(math.Floor(float64(r.Iron) * f)),
		OSR:  int64(math.Floor(float64(r.OSR) * f)),
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
