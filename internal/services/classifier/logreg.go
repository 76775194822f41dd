package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/service"
)

// Kind tags serialized logistic models.
const Kind = "logreg"

var (
	ErrEmptyInput      = errors.New("classifier: empty input")
	ErrDimension       = errors.New("classifier: dimension mismatch")
	ErrNotConverged    = errors.New("classifier: solver failed")
	ErrUnknownArtifact = errors.New("classifier: unknown artifact")
)

// Config controls the L2 penalized logistic regression solver.
type Config struct {
	C                float64 // inverse regularization strength, as in liblinear/sklearn
	MaxIter          int
	Tol              float64
	InterceptPenalty float64 // keeps single-class fits finite
	FeatureNames     []string
	Now              func() time.Time
}

type Option func(*Config)

func WithC(c float64) Option { return func(cfg *Config) { cfg.C = c } }
func WithMaxIter(n int) Option { return func(cfg *Config) { cfg.MaxIter = n } }
func WithFeatureNames(n []string) Option { return func(cfg *Config) { cfg.FeatureNames = n } }
func WithClock(now func() time.Time) Option { return func(cfg *Config) { cfg.Now = now } }

func DefaultConfig() Config {
	return Config{C: 1.0, MaxIter: 200, Tol: 1e-8, InterceptPenalty: 1e-4, Now: time.Now}
}

// Logistic fits binary logistic regression by Newton-Raphson.
type Logistic struct {
	cfg Config
}

var _ service.Classifier = (*Logistic)(nil)

func NewLogistic(opts ...Option) *Logistic {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.C <= 0 {
		cfg.C = 1.0
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 200
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Logistic{cfg: cfg}
}

// Fit minimizes sum(logloss) + ||w||²/(2C) + λb²/2.
func (l *Logistic) Fit(X [][]float64, y []int) (service.Model, error) {
	n := len(X)
	if n == 0 || len(y) != n {
		return nil, ErrEmptyInput
	}
	d := len(X[0])
	if d == 0 {
		return nil, ErrEmptyInput
	}
	// design matrix with a trailing column of ones for the intercept
	A := mat.NewDense(n, d+1, nil)
	target := make([]float64, n)
	for i, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrDimension, i, len(row), d)
		}
		for j, v := range row {
			A.Set(i, j, v)
		}
		A.Set(i, d, 1)
		if y[i] > 0 {
			target[i] = 1
		}
	}

	penalty := make([]float64, d+1)
	for j := 0; j < d; j++ {
		penalty[j] = 1 / l.cfg.C
	}
	penalty[d] = l.cfg.InterceptPenalty

	beta := make([]float64, d+1)
	loss := l.objective(A, target, beta, penalty)
	iter := 0
	for iter = 1; iter <= l.cfg.MaxIter; iter++ {
		grad, hess := l.derivatives(A, target, beta, penalty)

		var chol mat.Cholesky
		if ok := chol.Factorize(hess); !ok {
			return nil, ErrNotConverged
		}
		step := mat.NewVecDense(d+1, nil)
		if err := chol.SolveVecTo(step, mat.NewVecDense(d+1, grad)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotConverged, err)
		}

		// damped Newton: halve the step until the objective does not increase
		next := make([]float64, d+1)
		t := 1.0
		for k := 0; k < 30; k++ {
			for j := range beta {
				next[j] = beta[j] - t*step.AtVec(j)
			}
			nl := l.objective(A, target, next, penalty)
			if nl <= loss || k == 29 {
				loss = nl
				break
			}
			t /= 2
		}
		delta := 0.0
		for j := range beta {
			delta = math.Max(delta, math.Abs(next[j]-beta[j]))
		}
		copy(beta, next)
		if delta < l.cfg.Tol {
			break
		}
	}
	if iter > l.cfg.MaxIter {
		iter = l.cfg.MaxIter
	}
	if !finiteAll(beta) {
		return nil, ErrNotConverged
	}

	names := l.cfg.FeatureNames
	if len(names) != d {
		names = nil
	}
	return &LogisticModel{
		Kind:       Kind,
		Features:   names,
		Coef:       append([]float64(nil), beta[:d]...),
		Intercept:  beta[d],
		Iterations: iter,
		TrainedAt:  l.cfg.Now().UTC(),
	}, nil
}

func (l *Logistic) derivatives(A *mat.Dense, target, beta, penalty []float64) ([]float64, *mat.SymDense) {
	n, k := A.Dims()
	grad := make([]float64, k)
	hess := mat.NewSymDense(k, nil)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		mat.Row(row, i, A)
		p := sigmoid(floats.Dot(row, beta))
		floats.AddScaled(grad, p-target[i], row)
		w := p * (1 - p)
		for a := 0; a < k; a++ {
			if row[a] == 0 {
				continue
			}
			for b := a; b < k; b++ {
				hess.SetSym(a, b, hess.At(a, b)+w*row[a]*row[b])
			}
		}
	}
	for j := 0; j < k; j++ {
		grad[j] += penalty[j] * beta[j]
		hess.SetSym(j, j, hess.At(j, j)+penalty[j])
	}
	return grad, hess
}

func (l *Logistic) objective(A *mat.Dense, target, beta, penalty []float64) float64 {
	n, k := A.Dims()
	row := make([]float64, k)
	sum := 0.0
	for i := 0; i < n; i++ {
		mat.Row(row, i, A)
		z := floats.Dot(row, beta)
		// log(1+e^z) - y*z, computed without overflow
		sum += softplus(z) - target[i]*z
	}
	for j := range beta {
		sum += 0.5 * penalty[j] * beta[j] * beta[j]
	}
	return sum
}

// Unmarshal restores a model written by LogisticModel.MarshalBinary.
func (l *Logistic) Unmarshal(b []byte) (service.Model, error) {
	var m LogisticModel
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownArtifact, err)
	}
	if m.Kind != Kind || len(m.Coef) == 0 {
		return nil, ErrUnknownArtifact
	}
	return &m, nil
}

// LogisticModel is a fitted model. It serializes to JSON.
type LogisticModel struct {
	Kind       string    `json:"kind"`
	Features   []string  `json:"features,omitempty"`
	Coef       []float64 `json:"coef"`
	Intercept  float64   `json:"intercept"`
	Iterations int       `json:"iterations"`
	TrainedAt  time.Time `json:"trained_at"`
}

func (m *LogisticModel) PredictProba(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != len(m.Coef) {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrDimension, i, len(row), len(m.Coef))
		}
		out[i] = sigmoid(floats.Dot(row, m.Coef) + m.Intercept)
	}
	return out, nil
}

func (m *LogisticModel) Predict(X [][]float64) ([]int, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

func (m *LogisticModel) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func finiteAll(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
