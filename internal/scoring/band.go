package scoring

type Label string

const (
	Normal     Label = "Normal"
	Borderline Label = "Borderline"
	Abnormal   Label = "Abnormal"
)

const (
	DirectionHigher = "higher" // higher scores are worse
	DirectionLower  = "lower"  // lower scores are worse
)

// ValidDirection reports whether d is a known direction.
func ValidDirection(d string) bool { return d == DirectionHigher || d == DirectionLower }

// Band labels score. Cutoffs are inclusive: a score equal to the normal
// cutoff is Normal, one equal to the borderline cutoff is Borderline.
func Band(direction string, score, normal, borderline float64) Label {
	if direction == DirectionLower {
		switch {
		case score >= normal:
			return Normal
		case score >= borderline:
			return Borderline
		}
		return Abnormal
	}
	switch {
	case score <= normal:
		return Normal
	case score <= borderline:
		return Borderline
	}
	return Abnormal
}

// CutoffsOrdered reports whether the cutoffs fit direction.
func CutoffsOrdered(direction string, normal, borderline float64) bool {
	if direction == DirectionLower {
		return normal >= borderline
	}
	return normal <= borderline
}
