package extract

// Field names a canonical record field. Values match the wire schema keys.
type Field string

const (
	FieldDocumentType    Field = "document_type"
	FieldRiskLevel       Field = "risk_level"
	FieldRisks           Field = "risks"
	FieldRecommendations Field = "recommendations"
	FieldConfidence      Field = "confidence"
	FieldIsLegal         Field = "is_legal"
	FieldVerdict         Field = "verdict"
	FieldGlossary        Field = "glossary"
	FieldCoachTip        Field = "coach_tip"
)

// Fields lists every canonical field in schema order.
var Fields = []Field{
	FieldDocumentType,
	FieldRiskLevel,
	FieldRisks,
	FieldRecommendations,
	FieldConfidence,
	FieldIsLegal,
	FieldVerdict,
	FieldGlossary,
	FieldCoachTip,
}

// CoreFields must all be recovered for a fallback result to be considered
// complete.
var CoreFields = []Field{
	FieldDocumentType,
	FieldRiskLevel,
	FieldRisks,
	FieldRecommendations,
	FieldConfidence,
}

// RequiredFields may never be empty in a non-degraded record.
var RequiredFields = []Field{FieldDocumentType, FieldRiskLevel}

type fieldKind int

const (
	kindText fieldKind = iota
	kindList
	kindRisks
	kindNumber
	kindBool
	kindGlossary
)

func (f Field) kind() fieldKind {
	switch f {
	case FieldRecommendations:
		return kindList
	case FieldRisks:
		return kindRisks
	case FieldConfidence:
		return kindNumber
	case FieldIsLegal:
		return kindBool
	case FieldGlossary:
		return kindGlossary
	default:
		return kindText
	}
}

func (f Field) isList() bool {
	switch f.kind() {
	case kindList, kindRisks, kindGlossary:
		return true
	}
	return false
}

// Valid reports whether f is one of the canonical fields.
func (f Field) Valid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}
