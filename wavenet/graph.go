package wavenet

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/scttfrdmn/local-wavenet/loss"
)

type programKey struct {
	batch    int
	length   int
	training bool
}

// program is one compiled expression graph for a fixed batch size and
// input length. Training programs carry the loss and its gradients.
type program struct {
	key    programKey
	outLen int

	g      *gorgonia.ExprGraph
	vm     gorgonia.VM
	input  *gorgonia.Node
	labels *gorgonia.Node
	params []*gorgonia.Node

	logitsVal gorgonia.Value
	costVal   gorgonia.Value
}

func (p *program) close() {
	if p.vm != nil {
		p.vm.Close()
	}
}

// programFor returns the cached program for key, compiling it on first use.
// Callers hold m.mu.
func (m *Model) programFor(key programKey) (*program, error) {
	if p, ok := m.programs[key]; ok {
		return p, nil
	}

	p, err := m.compile(key)
	if err != nil {
		return nil, err
	}
	m.programs[key] = p
	return p, nil
}

func (m *Model) compile(key programKey) (*program, error) {
	c := m.config
	b := key.batch
	p := &program{
		key:    key,
		outLen: key.length - c.ReceptiveField() + 1,
		g:      gorgonia.NewGraph(),
	}
	g := p.g

	w := make(map[string]*gorgonia.Node, len(m.params))
	for _, prm := range m.params {
		n := gorgonia.NewMatrix(g, tensor.Float64,
			gorgonia.WithShape(prm.value.Shape()...),
			gorgonia.WithName(prm.name),
			gorgonia.WithValue(prm.value))
		w[prm.name] = n
		p.params = append(p.params, n)
	}

	p.input = gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(key.length*b, c.Classes),
		gorgonia.WithName("input"))

	h, err := gorgonia.Mul(p.input, w["start"])
	if err != nil {
		return nil, fmt.Errorf("start projection: %w", err)
	}

	cur := key.length
	var skip *gorgonia.Node
	layers := c.Blocks * c.Layers
	for i := 0; i < layers; i++ {
		d := 1 << (i % c.Layers)
		next := cur - d*(c.KernelSize-1)

		taps := make([]*gorgonia.Node, c.KernelSize)
		for k := range taps {
			if taps[k], err = gorgonia.Slice(h, gorgonia.S(k*d*b, (k*d+next)*b)); err != nil {
				return nil, fmt.Errorf("layer %d tap %d: %w", i, k, err)
			}
		}
		x, err := gorgonia.Concat(1, taps...)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}

		z, err := gatedActivation(x, w[layerName(i, "filter")], w[layerName(i, "gate")])
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}

		out, err := gorgonia.Slice(z, gorgonia.S((next-p.outLen)*b, next*b))
		if err != nil {
			return nil, fmt.Errorf("layer %d skip crop: %w", i, err)
		}
		s, err := gorgonia.Mul(out, w[layerName(i, "skip")])
		if err != nil {
			return nil, fmt.Errorf("layer %d skip: %w", i, err)
		}
		if skip == nil {
			skip = s
		} else if skip, err = gorgonia.Add(skip, s); err != nil {
			return nil, fmt.Errorf("layer %d skip sum: %w", i, err)
		}

		if i < layers-1 {
			res, err := gorgonia.Mul(z, w[layerName(i, "residual")])
			if err != nil {
				return nil, fmt.Errorf("layer %d residual: %w", i, err)
			}
			tail, err := gorgonia.Slice(h, gorgonia.S((cur-next)*b, cur*b))
			if err != nil {
				return nil, fmt.Errorf("layer %d residual crop: %w", i, err)
			}
			if h, err = gorgonia.Add(res, tail); err != nil {
				return nil, fmt.Errorf("layer %d residual sum: %w", i, err)
			}
		}
		cur = next
	}

	logits, err := head(skip, w)
	if err != nil {
		return nil, err
	}
	gorgonia.Read(logits, &p.logitsVal)

	opts, err := machineOptions(m.device)
	if err != nil {
		return nil, err
	}

	if key.training {
		p.labels = gorgonia.NewMatrix(g, tensor.Float64,
			gorgonia.WithShape(p.outLen*b, c.Classes),
			gorgonia.WithName("labels"))

		cost, err := loss.CrossEntropy(logits, p.labels)
		if err != nil {
			return nil, err
		}
		gorgonia.Read(cost, &p.costVal)

		if _, err := gorgonia.Grad(cost, p.params...); err != nil {
			return nil, fmt.Errorf("differentiate: %w", err)
		}
		opts = append(opts, gorgonia.BindDualValues(p.params...))
	}

	p.vm = gorgonia.NewTapeMachine(g, opts...)
	return p, nil
}

// gatedActivation computes tanh(x @ filter) * sigmoid(x @ gate).
func gatedActivation(x, filter, gate *gorgonia.Node) (*gorgonia.Node, error) {
	f, err := gorgonia.Mul(x, filter)
	if err != nil {
		return nil, err
	}
	gt, err := gorgonia.Mul(x, gate)
	if err != nil {
		return nil, err
	}
	if f, err = gorgonia.Tanh(f); err != nil {
		return nil, err
	}
	if gt, err = gorgonia.Sigmoid(gt); err != nil {
		return nil, err
	}
	return gorgonia.HadamardProd(f, gt)
}

// head maps the skip sum to class logits.
func head(skip *gorgonia.Node, w map[string]*gorgonia.Node) (*gorgonia.Node, error) {
	x, err := gorgonia.Rectify(skip)
	if err != nil {
		return nil, err
	}
	if x, err = dense(x, w["end1.weight"], w["end1.bias"]); err != nil {
		return nil, fmt.Errorf("end1: %w", err)
	}
	if x, err = gorgonia.Rectify(x); err != nil {
		return nil, err
	}
	if x, err = dense(x, w["end2.weight"], w["end2.bias"]); err != nil {
		return nil, fmt.Errorf("end2: %w", err)
	}
	return x, nil
}

func dense(x, weight, bias *gorgonia.Node) (*gorgonia.Node, error) {
	y, err := gorgonia.Mul(x, weight)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(y, bias, nil, []byte{0})
}

// run feeds one batch through p. labels may be nil for evaluation programs.
func (p *program) run(input, labels *tensor.Dense) error {
	if err := gorgonia.Let(p.input, input); err != nil {
		return err
	}
	if p.labels != nil {
		if err := gorgonia.Let(p.labels, labels); err != nil {
			return err
		}
	}

	p.vm.Reset()
	return p.vm.RunAll()
}

// publishGradients adds the gradients of the last run into params and
// clears the graph's copies.
func (p *program) publishGradients(params []*Parameter) error {
	for i, n := range p.params {
		gv, err := n.Grad()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrNoGradients, n.Name(), err)
		}
		gd, ok := gv.(*tensor.Dense)
		if !ok {
			return fmt.Errorf("%w: %s has gradient of type %T", ErrNoGradients, n.Name(), gv)
		}

		floats.Add(params[i].grad.Float64s(), gd.Float64s())
		gd.Zero()
	}
	return nil
}
