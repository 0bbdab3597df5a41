package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"fleetmap/internal/domain"
)

type depotFile struct {
	Depots []domain.Depot `yaml:"depots" validate:"required,min=1,dive"`
}

// LoadDepots reads the depot catalogue from a YAML file. An empty path
// selects the built-in catalogue.
func LoadDepots(path string) (*domain.Depots, error) {
	if path == "" {
		return domain.NewDepots(domain.DefaultDepots()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading depots file: %w", err)
	}

	var f depotFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing depots file %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validating depots file %s: %w", path, err)
	}
	return domain.NewDepots(f.Depots), nil
}
