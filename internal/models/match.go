package models

// MatchType labels how an address was associated to a parcel.
type MatchType string

const (
	MatchTypePreExisting     MatchType = "PreExisting"
	MatchTypeInside          MatchType = "Inside"
	MatchTypeBorderNear      MatchType = "BorderNear"
	MatchTypeFallbackNearest MatchType = "FallbackNearest"
)

// Priority is the ordinal used by downstream rollups: lower is stronger.
func (t MatchType) Priority() int {
	switch t {
	case MatchTypePreExisting:
		return 0
	case MatchTypeInside:
		return 1
	case MatchTypeBorderNear:
		return 2
	case MatchTypeFallbackNearest:
		return 3
	default:
		return 100
	}
}

// Confidence scores per match type. BorderNear steps down at 5 m.
const (
	ConfidencePreExisting    int32 = 100
	ConfidenceInside         int32 = 90
	ConfidenceBorderClose    int32 = 80
	ConfidenceBorderFar      int32 = 70
	ConfidenceFallback       int32 = 50
	borderConfidenceStepDist       = 5.0
)

// Match is one emitted address-parcel association.
type Match struct {
	IDBan      string
	IDParcelle string
	MatchType  MatchType
	DistanceM  float64
	Confidence int32
}

// NewMatch builds a match row, deriving the confidence from the type and
// distance.
func NewMatch(idBan, idParcelle string, matchType MatchType, distanceM float64) Match {
	var confidence int32
	switch matchType {
	case MatchTypePreExisting:
		confidence = ConfidencePreExisting
	case MatchTypeInside:
		confidence = ConfidenceInside
	case MatchTypeBorderNear:
		if distanceM < borderConfidenceStepDist {
			confidence = ConfidenceBorderClose
		} else {
			confidence = ConfidenceBorderFar
		}
	case MatchTypeFallbackNearest:
		confidence = ConfidenceFallback
	}

	return Match{
		IDBan:      idBan,
		IDParcelle: idParcelle,
		MatchType:  matchType,
		DistanceM:  distanceM,
		Confidence: confidence,
	}
}
