// Package config reads the YAML run description shared by the command line
// tools: grid geometry, domain decomposition, stencil order and the
// relaxation and offload knobs.
package config

import (
	"fmt"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/bradenmweight/gpaw/fd"
)

// Device holds the offload knobs. Zero values select the tuned defaults.
type Device struct {
	Enabled      bool   `yaml:"Enabled"`
	Props        string `yaml:"Props"`
	BlocksMin    int    `yaml:"BlocksMin"`
	BlocksMax    int    `yaml:"BlocksMax"`
	OverlapBytes int    `yaml:"OverlapBytes"`
	Parity       bool   `yaml:"Parity"`
}

// Parameters obtained from the YAML input file.
type Parameters struct {
	Title    string     `yaml:"Title"`
	GridSize [3]int     `yaml:"GridSize"`
	Procs    [3]int     `yaml:"Procs"`
	Periodic [3]bool    `yaml:"Periodic"`
	Spacing  [3]float64 `yaml:"Spacing"`
	Order    int        `yaml:"Order"`
	KPoint   [3]float64 `yaml:"KPoint"`
	Method   string     `yaml:"Method"`
	Weight   float64    `yaml:"Weight"`
	Sweeps   int        `yaml:"Sweeps"`
	Fields   int        `yaml:"Fields"`
	Device   Device     `yaml:"Device"`
}

// Defaults returns a runnable parameter set: a small periodic box smoothed
// with weighted Jacobi.
func Defaults() Parameters {
	return Parameters{
		Title:    "relaxation",
		GridSize: [3]int{24, 24, 24},
		Procs:    [3]int{1, 1, 1},
		Periodic: [3]bool{true, true, true},
		Spacing:  [3]float64{0.2, 0.2, 0.2},
		Order:    1,
		Method:   "jacobi",
		Weight:   2.0 / 3.0,
		Sweeps:   20,
		Fields:   1,
	}
}

func (p *Parameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, p)
}

// RelaxMethod maps the method name to the relaxation selector.
func (p *Parameters) RelaxMethod() (int, error) {
	switch strings.ToLower(p.Method) {
	case "gauss-seidel", "gs":
		return fd.MethodGaussSeidel, nil
	case "jacobi", "":
		return fd.MethodJacobi, nil
	}
	return 0, fmt.Errorf("config: unknown relaxation method %q", p.Method)
}

func (p *Parameters) Validate() error {
	for i := 0; i < 3; i++ {
		if p.GridSize[i] < 1 {
			return fmt.Errorf("config: GridSize[%d] = %d, must be positive", i, p.GridSize[i])
		}
		if p.Procs[i] < 1 {
			return fmt.Errorf("config: Procs[%d] = %d, must be positive", i, p.Procs[i])
		}
		if p.Spacing[i] <= 0 {
			return fmt.Errorf("config: Spacing[%d] = %g, must be positive", i, p.Spacing[i])
		}
	}
	if p.Order < 1 {
		return fmt.Errorf("config: Order = %d, must be at least 1", p.Order)
	}
	if p.Weight <= 0 || p.Weight > 1 {
		return fmt.Errorf("config: Weight = %g, must be in (0, 1]", p.Weight)
	}
	if p.Sweeps < 0 {
		return fmt.Errorf("config: Sweeps = %d, must not be negative", p.Sweeps)
	}
	if p.Fields < 1 {
		return fmt.Errorf("config: Fields = %d, must be positive", p.Fields)
	}
	if _, err := p.RelaxMethod(); err != nil {
		return err
	}
	return nil
}

func (p *Parameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", p.Title)
	fmt.Printf("%v\t= GridSize\n", p.GridSize)
	fmt.Printf("%v\t\t= Procs\n", p.Procs)
	fmt.Printf("%v = Periodic\n", p.Periodic)
	fmt.Printf("%v\t= Spacing\n", p.Spacing)
	fmt.Printf("[%d]\t\t\t= Order\n", p.Order)
	fmt.Printf("[%s]\t\t= Method\n", p.Method)
	fmt.Printf("%8.5f\t\t= Weight\n", p.Weight)
	fmt.Printf("[%d]\t\t\t= Sweeps\n", p.Sweeps)
	fmt.Printf("[%d]\t\t\t= Fields\n", p.Fields)
	if p.Device.Enabled {
		fmt.Printf("[device]\t\t= Backend%s\n", deviceNote(p.Device))
	}
}

func deviceNote(d Device) string {
	if d.Props == "" {
		return " (auto)"
	}
	return " " + d.Props
}
