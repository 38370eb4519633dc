// Package wavenet implements an autoregressive audio model built from
// stacks of dilated causal convolutions.
//
// ===========================================================================
// ARCHITECTURE
// ===========================================================================
//
// The model predicts a categorical distribution over the next quantized
// sample given the previous ReceptiveField samples.
//
//	one-hot input ─► start projection ─► [dilated layer] x Blocks*Layers
//	                                           │ skip
//	                                           ▼
//	                         sum of skips ─► ReLU ─► end1 ─► ReLU ─► end2 ─► logits
//
// Each dilated layer looks KernelSize taps back with a spacing that doubles
// per layer (1, 2, 4, ... 2^(Layers-1)) and restarts every block. The taps
// feed a gated activation tanh(filter) * sigmoid(gate). Its output is added
// back into the residual stream and, for the last OutputLength positions,
// projected into the skip sum.
//
// Convolutions are unpadded, so a sequence of length T yields
// T - ReceptiveField + 1 predictions.
//
// Activations are laid out time-major: row t*B+b holds position t of batch
// item b. A shift by d positions is then a contiguous row slice of d*B rows.
//
// Paper: "WaveNet: A Generative Model for Raw Audio", van den Oord et al., 2016
// ===========================================================================
package wavenet

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/scttfrdmn/local-wavenet/device"
)

// Parameter is a named learnable tensor with its gradient accumulator.
// It satisfies gorgonia.ValueGrad so solvers can update it directly.
type Parameter struct {
	name  string
	value *tensor.Dense
	grad  *tensor.Dense
}

func newParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		name:  name,
		value: tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(rows, cols)),
		grad:  tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(rows, cols)),
	}
}

// Name returns the parameter's stable name.
func (p *Parameter) Name() string { return p.name }

// Value returns the parameter tensor.
func (p *Parameter) Value() gorgonia.Value { return p.value }

// Grad returns the accumulated gradient.
func (p *Parameter) Grad() (gorgonia.Value, error) { return p.grad, nil }

// Model is a WaveNet. All methods are safe for concurrent use, but a
// training step (Forward then Backward) must not interleave with another.
type Model struct {
	config Config
	params []*Parameter
	byName map[string]*Parameter

	mu       sync.Mutex
	training bool
	device   device.Device
	programs map[programKey]*program
	pending  *program
	rng      *rand.Rand
}

// New creates a model with Glorot-uniform initialized weights and zero biases.
func New(config Config) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	m := &Model{
		config:   config,
		byName:   make(map[string]*Parameter),
		training: true,
		device:   device.Default(),
		programs: make(map[programKey]*program),
		rng:      rand.New(rand.NewSource(seed)),
	}

	c := config
	k := c.KernelSize
	m.add("start", c.Classes, c.ResidualChannels)
	for i := 0; i < c.Blocks*c.Layers; i++ {
		m.add(layerName(i, "filter"), k*c.ResidualChannels, c.DilationChannels)
		m.add(layerName(i, "gate"), k*c.ResidualChannels, c.DilationChannels)
		m.add(layerName(i, "skip"), c.DilationChannels, c.SkipChannels)
		// the last layer's residual output is never consumed
		if i < c.Blocks*c.Layers-1 {
			m.add(layerName(i, "residual"), c.DilationChannels, c.ResidualChannels)
		}
	}
	m.add("end1.weight", c.SkipChannels, c.EndChannels)
	m.add("end1.bias", 1, c.EndChannels)
	m.add("end2.weight", c.EndChannels, c.Classes)
	m.add("end2.bias", 1, c.Classes)

	for _, p := range m.params {
		if p.value.Shape()[0] == 1 {
			continue
		}
		glorotUniform(p.value, m.rng)
	}
	return m, nil
}

func layerName(i int, part string) string {
	return fmt.Sprintf("layers.%d.%s", i, part)
}

func (m *Model) add(name string, rows, cols int) {
	p := newParameter(name, rows, cols)
	m.params = append(m.params, p)
	m.byName[name] = p
}

func glorotUniform(t *tensor.Dense, rng *rand.Rand) {
	shape := t.Shape()
	limit := math.Sqrt(6 / float64(shape[0]+shape[1]))
	data := t.Float64s()
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Config returns the model's hyperparameters.
func (m *Model) Config() Config { return m.config }

// ReceptiveField is shorthand for Config().ReceptiveField().
func (m *Model) ReceptiveField() int { return m.config.ReceptiveField() }

// Train switches the model to training mode.
func (m *Model) Train() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.training = true
}

// Eval switches the model to evaluation mode. Evaluation forwards build
// no gradients.
func (m *Model) Eval() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.training = false
	m.pending = nil
}

// Training reports whether the model is in training mode.
func (m *Model) Training() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.training
}

// Parameters returns the learnable tensors in a stable order.
func (m *Model) Parameters() []gorgonia.ValueGrad {
	vgs := make([]gorgonia.ValueGrad, len(m.params))
	for i, p := range m.params {
		vgs[i] = p
	}
	return vgs
}

// Parameter looks up a learnable tensor by name.
func (m *Model) Parameter(name string) (*Parameter, bool) {
	p, ok := m.byName[name]
	return p, ok
}

// NumParams returns the total number of learnable scalars.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += p.value.Shape().TotalSize()
	}
	return n
}

// ZeroGrad clears all gradient accumulators.
func (m *Model) ZeroGrad() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.params {
		p.grad.Zero()
	}
}

// Place selects the device compiled programs run on. Programs compiled for
// the previous device are released.
func (m *Model) Place(d device.Device) error {
	if _, err := machineOptions(d); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = d
	m.closePrograms()
	return nil
}

// Device returns the device programs run on.
func (m *Model) Device() device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Clone returns an independent copy of the model's weights and mode.
// Gradients and compiled programs are not copied.
func (m *Model) Clone() (*Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config := m.config
	config.Seed = m.rng.Int63()
	c, err := New(config)
	if err != nil {
		return nil, err
	}
	for i, p := range m.params {
		copy(c.params[i].value.Float64s(), p.value.Float64s())
	}
	c.training = m.training
	c.device = m.device
	return c, nil
}

// Close releases compiled programs.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closePrograms()
	return nil
}

func (m *Model) closePrograms() {
	for key, p := range m.programs {
		p.close()
		delete(m.programs, key)
	}
	m.pending = nil
}
