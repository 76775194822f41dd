package service

// Classifier trains and scores a binary direction model.
type Classifier interface {
	Fit(X [][]float64, y []int) (Model, error)
	// Unmarshal restores a model produced by Model.MarshalBinary.
	Unmarshal(b []byte) (Model, error)
}

// Model is a trained classifier.
type Model interface {
	// PredictProba returns P(label=1) for each row.
	PredictProba(X [][]float64) ([]float64, error)
	// Predict returns the class for each row at the 0.5 threshold.
	Predict(X [][]float64) ([]int, error)
	MarshalBinary() ([]byte, error)
}
