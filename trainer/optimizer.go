package trainer

import (
	"fmt"
	"strings"

	"gorgonia.org/gorgonia"
)

// OptimizerFactory builds the solver a Trainer binds to its model's
// parameters. It is called once per Trainer.
type OptimizerFactory func(learningRate, weightDecay float64) (gorgonia.Solver, error)

// NewOptimizer returns the factory for the named optimizer, configured
// from c's optimizer-specific settings.
func NewOptimizer(c Config) (OptimizerFactory, error) {
	decay := func(wd float64) []gorgonia.SolverOpt {
		if wd > 0 {
			return []gorgonia.SolverOpt{gorgonia.WithL2Reg(wd)}
		}
		return nil
	}

	switch strings.ToLower(c.Optimizer) {
	case "", "adam":
		return func(lr, wd float64) (gorgonia.Solver, error) {
			opts := []gorgonia.SolverOpt{gorgonia.WithLearnRate(lr)}
			if c.AdamBeta1 > 0 {
				opts = append(opts, gorgonia.WithBeta1(c.AdamBeta1))
			}
			if c.AdamBeta2 > 0 {
				opts = append(opts, gorgonia.WithBeta2(c.AdamBeta2))
			}
			if c.AdamEpsilon > 0 {
				opts = append(opts, gorgonia.WithEps(c.AdamEpsilon))
			}
			return gorgonia.NewAdamSolver(append(opts, decay(wd)...)...), nil
		}, nil
	case "sgd":
		return func(lr, wd float64) (gorgonia.Solver, error) {
			return gorgonia.NewVanillaSolver(append([]gorgonia.SolverOpt{gorgonia.WithLearnRate(lr)}, decay(wd)...)...), nil
		}, nil
	case "momentum":
		return func(lr, wd float64) (gorgonia.Solver, error) {
			opts := []gorgonia.SolverOpt{gorgonia.WithLearnRate(lr), gorgonia.WithMomentum(c.Momentum)}
			return gorgonia.NewMomentum(append(opts, decay(wd)...)...), nil
		}, nil
	case "rmsprop":
		return func(lr, wd float64) (gorgonia.Solver, error) {
			return gorgonia.NewRMSPropSolver(append([]gorgonia.SolverOpt{gorgonia.WithLearnRate(lr)}, decay(wd)...)...), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", ErrInvalidArgument, c.Optimizer)
	}
}
