package predictor

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

type layer interface {
	inputDim() int
	outputDim() int
	// forward consumes the input sequence and returns the output sequence.
	// Buffers come from ws and are only valid until ws is released.
	forward(in [][]float64, ws *workspace, idx int) [][]float64
}

type network struct {
	layers    []layer
	timesteps int
	step      int
	width     int
	version   string
	pool      sync.Pool
}

func newNetwork(artifact Artifact) (*network, error) {
	if len(artifact.InputShape) != 2 || artifact.InputShape[0] <= 0 || artifact.InputShape[1] <= 0 {
		return nil, fmt.Errorf("sequential artifact needs input_shape [timesteps, width], got %v", artifact.InputShape)
	}
	if len(artifact.Layers) == 0 {
		return nil, fmt.Errorf("sequential artifact has no layers")
	}
	n := &network{
		timesteps: artifact.InputShape[0],
		step:      artifact.InputShape[1],
		width:     artifact.InputShape[0] * artifact.InputShape[1],
		version:   artifact.Version,
	}
	in := n.step
	for i, spec := range artifact.Layers {
		var (
			l   layer
			err error
		)
		switch spec.Type {
		case "dense":
			l, err = newDense(spec, in)
		case "lstm":
			l, err = newLSTM(spec, in)
		default:
			err = fmt.Errorf("unsupported layer type %q", spec.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		n.layers = append(n.layers, l)
		in = l.outputDim()
	}
	if in != 1 && in != 2 {
		return nil, fmt.Errorf("final layer has %d units, want 1 or 2", in)
	}
	n.pool.New = func() interface{} { return newWorkspace(n) }
	return n, nil
}

func (n *network) Width() int      { return n.width }
func (n *network) Version() string { return n.version }

// Predict reshapes the vector into [timesteps, step] and runs a
// forward pass. Intermediate buffers are returned to the pool before it
// returns.
func (n *network) Predict(vector []float64) (float64, error) {
	if len(vector) != n.width {
		return 0, fmt.Errorf("input width %d, model expects %d", len(vector), n.width)
	}
	ws := n.pool.Get().(*workspace)
	defer n.pool.Put(ws)

	step := n.step
	seq := ws.input[:0]
	for t := 0; t < n.timesteps; t++ {
		seq = append(seq, vector[t*step:(t+1)*step])
	}
	out := seq
	for i, l := range n.layers {
		out = l.forward(out, ws, i)
	}
	last := out[len(out)-1]
	p := last[len(last)-1]
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("model produced non-finite output %v", p)
	}
	return p, nil
}

// workspace holds per-call buffers, one set per layer.
type workspace struct {
	input   [][]float64
	seqs    [][][]float64
	scratch [][]*mat.VecDense
}

func newWorkspace(n *network) *workspace {
	ws := &workspace{
		input:   make([][]float64, 0, n.timesteps),
		seqs:    make([][][]float64, len(n.layers)),
		scratch: make([][]*mat.VecDense, len(n.layers)),
	}
	for i, l := range n.layers {
		seq := make([][]float64, n.timesteps)
		for t := range seq {
			seq[t] = make([]float64, l.outputDim())
		}
		ws.seqs[i] = seq
		switch typed := l.(type) {
		case *lstm:
			ws.scratch[i] = []*mat.VecDense{
				mat.NewVecDense(4*typed.units, nil),
				mat.NewVecDense(4*typed.units, nil),
				mat.NewVecDense(typed.units, nil),
				mat.NewVecDense(typed.units, nil),
			}
		case *dense:
			ws.scratch[i] = []*mat.VecDense{mat.NewVecDense(typed.units, nil)}
		}
	}
	return ws
}

type dense struct {
	kernel     *mat.Dense // in x units
	bias       *mat.VecDense
	units      int
	in         int
	activation func([]float64)
}

func newDense(spec LayerSpec, in int) (*dense, error) {
	units := spec.Units
	if units <= 0 && len(spec.Kernel) > 0 {
		units = len(spec.Kernel[0])
	}
	kernel, err := denseFrom(spec.Kernel, in, units, "kernel")
	if err != nil {
		return nil, err
	}
	bias, err := biasFrom(spec.Bias, units)
	if err != nil {
		return nil, err
	}
	act, err := activation(spec.Activation, "linear")
	if err != nil {
		return nil, err
	}
	return &dense{kernel: kernel, bias: bias, units: units, in: in, activation: act}, nil
}

func (d *dense) inputDim() int  { return d.in }
func (d *dense) outputDim() int { return d.units }

// A dense layer is applied to every timestep independently.
func (d *dense) forward(in [][]float64, ws *workspace, idx int) [][]float64 {
	out := ws.seqs[idx][:len(in)]
	z := ws.scratch[idx][0]
	for t, x := range in {
		z.MulVec(d.kernel.T(), mat.NewVecDense(len(x), x))
		z.AddVec(z, d.bias)
		copy(out[t], z.RawVector().Data)
		d.activation(out[t])
	}
	return out
}

type lstm struct {
	kernel    *mat.Dense // in x 4u
	recurrent *mat.Dense // u x 4u
	bias      *mat.VecDense
	units     int
	in        int
	act       func([]float64)
	recAct    func([]float64)
}

func newLSTM(spec LayerSpec, in int) (*lstm, error) {
	units := spec.Units
	if units <= 0 {
		return nil, fmt.Errorf("lstm layer needs units")
	}
	kernel, err := denseFrom(spec.Kernel, in, 4*units, "kernel")
	if err != nil {
		return nil, err
	}
	recurrent, err := denseFrom(spec.RecurrentKernel, units, 4*units, "recurrent_kernel")
	if err != nil {
		return nil, err
	}
	bias, err := biasFrom(spec.Bias, 4*units)
	if err != nil {
		return nil, err
	}
	act, err := activation(spec.Activation, "tanh")
	if err != nil {
		return nil, err
	}
	recAct, err := activation(spec.RecurrentActivation, "sigmoid")
	if err != nil {
		return nil, err
	}
	return &lstm{kernel: kernel, recurrent: recurrent, bias: bias, units: units, in: in, act: act, recAct: recAct}, nil
}

func (l *lstm) inputDim() int  { return l.in }
func (l *lstm) outputDim() int { return l.units }

// forward returns only the final hidden state, as a one-step sequence.
// Gate order in the fused kernels is input, forget, cell, output.
func (l *lstm) forward(in [][]float64, ws *workspace, idx int) [][]float64 {
	z, rz, h, c := ws.scratch[idx][0], ws.scratch[idx][1], ws.scratch[idx][2], ws.scratch[idx][3]
	h.Zero()
	c.Zero()
	u := l.units
	for _, x := range in {
		z.MulVec(l.kernel.T(), mat.NewVecDense(len(x), x))
		rz.MulVec(l.recurrent.T(), h)
		z.AddVec(z, rz)
		z.AddVec(z, l.bias)

		gates := z.RawVector().Data
		i, f, g, o := gates[:u], gates[u:2*u], gates[2*u:3*u], gates[3*u:]
		l.recAct(i)
		l.recAct(f)
		l.act(g)
		l.recAct(o)

		hd, cd := h.RawVector().Data, c.RawVector().Data
		for k := 0; k < u; k++ {
			cd[k] = f[k]*cd[k] + i[k]*g[k]
		}
		copy(hd, cd)
		l.act(hd)
		for k := 0; k < u; k++ {
			hd[k] *= o[k]
		}
	}
	out := ws.seqs[idx][:1]
	copy(out[0], h.RawVector().Data)
	return out
}

func denseFrom(rows [][]float64, r, c int, name string) (*mat.Dense, error) {
	if len(rows) != r {
		return nil, fmt.Errorf("%s has %d rows, want %d", name, len(rows), r)
	}
	data := make([]float64, 0, r*c)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("%s row %d has %d columns, want %d", name, i, len(row), c)
		}
		data = append(data, row...)
	}
	return mat.NewDense(r, c, data), nil
}

func biasFrom(bias []float64, n int) (*mat.VecDense, error) {
	if len(bias) == 0 {
		return mat.NewVecDense(n, nil), nil
	}
	if len(bias) != n {
		return nil, fmt.Errorf("bias has %d entries, want %d", len(bias), n)
	}
	return mat.NewVecDense(n, append([]float64(nil), bias...)), nil
}

func activation(name, fallback string) (func([]float64), error) {
	if name == "" {
		name = fallback
	}
	switch name {
	case "linear":
		return func([]float64) {}, nil
	case "sigmoid":
		return func(v []float64) {
			for i, x := range v {
				v[i] = 1 / (1 + math.Exp(-x))
			}
		}, nil
	case "tanh":
		return func(v []float64) {
			for i, x := range v {
				v[i] = math.Tanh(x)
			}
		}, nil
	case "relu":
		return func(v []float64) {
			for i, x := range v {
				v[i] = math.Max(0, x)
			}
		}, nil
	case "softmax":
		return func(v []float64) {
			peak := math.Inf(-1)
			for _, x := range v {
				peak = math.Max(peak, x)
			}
			var sum float64
			for i, x := range v {
				v[i] = math.Exp(x - peak)
				sum += v[i]
			}
			for i := range v {
				v[i] /= sum
			}
		}, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
}
