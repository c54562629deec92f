package cinesort

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
)

//go:embed demo.toml
var demoFile []byte

type demoConfig struct {
	ID     string  `toml:"id"`
	Title  string  `toml:"title"`
	Scenes []Scene `toml:"scenes"`
}

// DemoPuzzle returns the built-in puzzle. It has no date.
func DemoPuzzle() (Puzzle, error) {
	return parseDemo(demoFile)
}

func parseDemo(data []byte) (Puzzle, error) {
	var cfg demoConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Puzzle{}, fmt.Errorf("failed to parse demo puzzle: %w", err)
	}

	title, err := validateTitle(cfg.Title)
	if err != nil {
		return Puzzle{}, err
	}
	scenes, err := validateScenes(cfg.Scenes)
	if err != nil {
		return Puzzle{}, err
	}

	return Puzzle{
		ID:     cfg.ID,
		Title:  title,
		Scenes: scenes,
	}, nil
}
