package wavenet

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"

	"github.com/scttfrdmn/local-wavenet/device"
)

func tinyConfig() Config {
	return Config{
		Layers:           2,
		Blocks:           1,
		DilationChannels: 4,
		ResidualChannels: 4,
		SkipChannels:     6,
		EndChannels:      6,
		Classes:          8,
		OutputLength:     2,
		KernelSize:       2,
		Seed:             1,
	}
}

func newTiny(t *testing.T) *Model {
	t.Helper()
	m, err := New(tinyConfig())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func randomBatch(rng *rand.Rand, batch, length, classes int) [][]int {
	inputs := make([][]int, batch)
	for i := range inputs {
		inputs[i] = make([]int, length)
		for j := range inputs[i] {
			inputs[i][j] = rng.Intn(classes)
		}
	}
	return inputs
}

func TestConfigGeometry(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 4093, c.ReceptiveField())
	assert.Equal(t, 4124, c.ItemLength())
	require.NoError(t, c.Validate())

	tiny := tinyConfig()
	assert.Equal(t, 4, tiny.ReceptiveField())
	assert.Equal(t, 5, tiny.ItemLength())

	tiny.KernelSize = 3
	assert.Equal(t, 7, tiny.ReceptiveField())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no layers", func(c *Config) { c.Layers = 0 }},
		{"single class", func(c *Config) { c.Classes = 1 }},
		{"single output", func(c *Config) { c.OutputLength = 1 }},
		{"single tap", func(c *Config) { c.KernelSize = 1 }},
		{"huge dilation", func(c *Config) { c.Layers = 40 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := tinyConfig()
			tc.mutate(&c)
			require.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewParameters(t *testing.T) {
	m := newTiny(t)

	// start, 2x(filter, gate, skip), one residual, two end projections with biases
	assert.Len(t, m.Parameters(), 12)

	_, ok := m.Parameter("layers.1.residual")
	assert.False(t, ok)

	start, ok := m.Parameter("start")
	require.True(t, ok)
	assert.Equal(t, []int{8, 4}, []int(start.value.Shape()))

	bias, ok := m.Parameter("end2.bias")
	require.True(t, ok)
	for _, v := range bias.value.Float64s() {
		assert.Zero(t, v)
	}

	want := 8*4 + 2*(8*4+8*4+4*6) + 4*4 + 6*6 + 6 + 6*8 + 8
	assert.Equal(t, want, m.NumParams())
}

func TestNewIsSeeded(t *testing.T) {
	a := newTiny(t)
	b := newTiny(t)
	for i := range a.params {
		assert.Equal(t, a.params[i].value.Float64s(), b.params[i].value.Float64s())
	}
}

func TestForwardShapes(t *testing.T) {
	m := newTiny(t)
	m.Eval()

	rng := rand.New(rand.NewSource(3))
	inputs := randomBatch(rng, 3, 5, 8)

	cost, logits, err := m.Forward(inputs, nil)
	require.NoError(t, err)
	assert.Zero(t, cost)
	assert.Equal(t, []int{6, 8}, []int(logits.Shape()))

	// longer windows yield more predictions
	_, logits, err = m.Forward(randomBatch(rng, 2, 9, 8), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 8}, []int(logits.Shape()))
}

func TestForwardRejectsBadInput(t *testing.T) {
	m := newTiny(t)

	cases := []struct {
		name    string
		inputs  [][]int
		targets []int
	}{
		{"empty", nil, nil},
		{"ragged", [][]int{{1, 2, 3, 4, 5}, {1, 2, 3, 4}}, []int{1, 2, 3, 4}},
		{"too short", [][]int{{1, 2, 3, 4}}, []int{1}},
		{"class range", [][]int{{1, 2, 3, 4, 9}}, []int{1, 2}},
		{"target count", [][]int{{1, 2, 3, 4, 5}}, []int{1}},
		{"training without targets", [][]int{{1, 2, 3, 4, 5}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := m.Forward(tc.inputs, tc.targets)
			require.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
}

func TestForwardBatchMatchesSingles(t *testing.T) {
	m := newTiny(t)
	m.Eval()

	rng := rand.New(rand.NewSource(5))
	inputs := randomBatch(rng, 3, 6, 8)

	_, batched, err := m.Forward(inputs, nil)
	require.NoError(t, err)
	all := batched.Float64s()

	rows := 3 * 8 // three predictions of eight classes per item
	for i, in := range inputs {
		_, single, err := m.Forward([][]int{in}, nil)
		require.NoError(t, err)
		assert.InDeltaSlice(t, single.Float64s(), all[i*rows:(i+1)*rows], 1e-9, "item %d", i)
	}
}

func TestTrainingForwardMatchesEvalLoss(t *testing.T) {
	m := newTiny(t)
	rng := rand.New(rand.NewSource(7))
	inputs := randomBatch(rng, 2, 5, 8)
	targets := []int{1, 2, 3, 4}

	trainLoss, _, err := m.Forward(inputs, targets)
	require.NoError(t, err)

	m.Eval()
	evalLoss, _, err := m.Forward(inputs, targets)
	require.NoError(t, err)

	assert.InDelta(t, evalLoss, trainLoss, 1e-6)
	assert.Greater(t, trainLoss, 0.0)
}

func TestBackwardRequiresTrainingForward(t *testing.T) {
	m := newTiny(t)
	require.ErrorIs(t, m.Backward(), ErrNoGradients)

	m.Eval()
	_, _, err := m.Forward([][]int{{1, 2, 3, 4, 5}}, []int{1, 2})
	require.NoError(t, err)
	require.ErrorIs(t, m.Backward(), ErrNoGradients)
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	m := newTiny(t)
	rng := rand.New(rand.NewSource(11))
	inputs := randomBatch(rng, 2, 6, 8)
	targets := []int{0, 1, 2, 3, 4, 5}

	_, _, err := m.Forward(inputs, targets)
	require.NoError(t, err)
	m.ZeroGrad()
	require.NoError(t, m.Backward())

	m.Eval()
	evalLoss := func() float64 {
		l, _, err := m.Forward(inputs, targets)
		require.NoError(t, err)
		return l
	}

	const h = 1e-5
	for _, name := range []string{"end2.bias", "end1.weight", "layers.0.filter", "layers.1.gate", "start"} {
		p, ok := m.Parameter(name)
		require.True(t, ok, name)
		values := p.value.Float64s()
		grads := p.grad.Float64s()

		for _, i := range []int{0, len(values) / 2, len(values) - 1} {
			orig := values[i]
			values[i] = orig + h
			up := evalLoss()
			values[i] = orig - h
			down := evalLoss()
			values[i] = orig

			numeric := (up - down) / (2 * h)
			assert.InDelta(t, numeric, grads[i], 1e-5+1e-3*math.Abs(numeric), "%s[%d]", name, i)
		}
	}
}

func TestGradientsAccumulateUntilZeroed(t *testing.T) {
	m := newTiny(t)
	inputs := [][]int{{1, 2, 3, 4, 5}}
	targets := []int{6, 7}

	step := func() []float64 {
		_, _, err := m.Forward(inputs, targets)
		require.NoError(t, err)
		require.NoError(t, m.Backward())
		p, _ := m.Parameter("end2.bias")
		return append([]float64(nil), p.grad.Float64s()...)
	}

	m.ZeroGrad()
	once := step()
	twice := step()
	for i := range once {
		assert.InDelta(t, 2*once[i], twice[i], 1e-9)
	}

	m.ZeroGrad()
	again := step()
	assert.InDeltaSlice(t, once, again, 1e-9)
}

func TestTrainingReducesLoss(t *testing.T) {
	m := newTiny(t)
	rng := rand.New(rand.NewSource(13))
	inputs := randomBatch(rng, 4, 5, 8)
	targets := []int{1, 1, 2, 2, 3, 3, 4, 4}

	solver := gorgonia.NewAdamSolver(gorgonia.WithLearnRate(0.05))
	first := 0.0
	last := 0.0
	for i := 0; i < 60; i++ {
		l, _, err := m.Forward(inputs, targets)
		require.NoError(t, err)
		m.ZeroGrad()
		require.NoError(t, m.Backward())
		require.NoError(t, solver.Step(m.Parameters()))
		if i == 0 {
			first = l
		}
		last = l
	}
	assert.Less(t, last, first*0.75)
}

func TestGenerate(t *testing.T) {
	m := newTiny(t)
	ctx := context.Background()

	greedy, err := m.Generate(ctx, 12, 0)
	require.NoError(t, err)
	assert.Len(t, greedy, 12)

	again, err := m.Generate(ctx, 12, 0)
	require.NoError(t, err)
	assert.Equal(t, greedy, again)

	sampled, err := m.Generate(ctx, 12, 1)
	require.NoError(t, err)
	assert.Len(t, sampled, 12)
	for _, v := range append(greedy, sampled...) {
		assert.True(t, v >= -1 && v <= 1, "sample %v", v)
	}

	// generation never switches the model out of training mode
	assert.True(t, m.Training())
}

func TestGenerateFrom(t *testing.T) {
	m := newTiny(t)

	out, err := m.GenerateFrom(context.Background(), []int{1, 2, 3, 4, 5, 6, 7}, 4, SampleConfig{Temperature: 0.8, TopK: 3})
	require.NoError(t, err)
	require.Len(t, out, 4)
	for _, c := range out {
		assert.True(t, c >= 0 && c < 8)
	}

	_, err = m.GenerateFrom(context.Background(), nil, 0, SampleConfig{})
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = m.GenerateFrom(context.Background(), nil, 3, SampleConfig{Temperature: -1})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestGenerateCancelled(t *testing.T) {
	m := newTiny(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, 5, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newTiny(t)
	m.Eval()

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	defer loaded.Close()
	loaded.Eval()

	assert.Equal(t, m.Config(), loaded.Config())
	for i := range m.params {
		assert.Equal(t, m.params[i].value.Float64s(), loaded.params[i].value.Float64s(), m.params[i].name)
	}

	inputs := [][]int{{0, 1, 2, 3, 4, 5}}
	_, want, err := m.Forward(inputs, nil)
	require.NoError(t, err)
	_, got, err := loaded.Forward(inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, want.Float64s(), got.Float64s())
}

func TestSaveFileLoadFile(t *testing.T) {
	m := newTiny(t)
	path := t.TempDir() + "/snapshot"
	require.NoError(t, m.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, m.NumParams(), loaded.NumParams())
}

func TestLoadRejectsCorruptSnapshots(t *testing.T) {
	m := newTiny(t)
	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	data := buf.Bytes()

	cases := map[string][]byte{
		"empty":     nil,
		"truncated": data[:len(data)-8],
		"header":    append([]byte{4, 0, 0, 0}, []byte("nope")...),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(bytes.NewReader(b))
			require.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := newTiny(t)
	m.Eval()

	c, err := m.Clone()
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Training())

	p, _ := c.Parameter("end2.bias")
	p.value.Float64s()[0] = 42

	orig, _ := m.Parameter("end2.bias")
	assert.Zero(t, orig.value.Float64s()[0])
}

func TestPlaceCPU(t *testing.T) {
	m := newTiny(t)
	require.NoError(t, m.Place(device.Default()))
	assert.Equal(t, device.CPU, m.Device().Kind)

	_, _, err := m.Forward([][]int{{1, 2, 3, 4, 5}}, []int{1, 2})
	require.NoError(t, err)
}
