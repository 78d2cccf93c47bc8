package search

// Grid enumerates the cartesian product of the space in declaration
// order, one combination per trial ID. The last declared parameter
// cycles fastest, matching a nested-loop walk. Float parameters
// contribute a single point (their low bound) since a grid needs
// finite axes.
type Grid struct{}

func NewGrid() *Grid { return &Grid{} }

func (g *Grid) Name() string { return "grid" }

// TotalTrials reports the number of distinct combinations; Optimize
// stops once a study has started that many trials.
func (g *Grid) TotalTrials(space *Space) int { return space.GridSize() }

func (g *Grid) Sample(space *Space, param Param, trial *Trial, _ History) (Value, error) {
	// Decompose the trial ID in mixed radix over the axis sizes,
	// last axis fastest.
	params := space.Params()
	idx := trial.ID % space.GridSize()
	var at int
	for i := len(params) - 1; i >= 0; i-- {
		size := params[i].axisSize()
		if params[i].Name == param.Name {
			at = idx % size
			break
		}
		idx /= size
	}

	switch param.Kind {
	case KindCategorical:
		return CategoricalValue(param.Choices[at]), nil
	case KindInt:
		return IntValue(param.Low + int64(at)*param.Step), nil
	default:
		return FloatValue(param.FloatLow), nil
	}
}
