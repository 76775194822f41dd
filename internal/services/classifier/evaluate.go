package classifier

import "github.com/victorescoto/fiap-ml-finance/internal/domain/models"

// Evaluate scores predictions against the truth. F1 is for the positive class
// and is zero when the model never predicts, or never meets, a positive.
func Evaluate(yTrue, yPred []int) models.Metrics {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return models.Metrics{}
	}
	var tp, fp, fn, correct int
	for i := range yTrue {
		t, p := yTrue[i] > 0, yPred[i] > 0
		if t == p {
			correct++
		}
		switch {
		case t && p:
			tp++
		case !t && p:
			fp++
		case t && !p:
			fn++
		}
	}
	m := models.Metrics{Accuracy: float64(correct) / float64(len(yTrue))}
	if denom := 2*tp + fp + fn; denom > 0 {
		m.F1 = float64(2*tp) / float64(denom)
	}
	return m
}
